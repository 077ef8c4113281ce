package jsvm

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/sakif/blitz/internal/apperror"
)

// toCommonJS rewrites ES module syntax into require/module.exports so that
// imports flow through the realm's module loader. Dynamic import() is
// lowered to a promise around require.
func toCommonJS(code, sourcefile string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Target:     api.ES2020,
		Sourcefile: sourcefile,
		Supported: map[string]bool{
			"dynamic-import": false,
		},
		LogLevel: api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", apperror.EvaluationFailed(formatMessages(result.Errors))
	}
	return string(result.Code), nil
}

func formatMessages(msgs []api.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if loc := m.Location; loc != nil {
			lines = append(lines, fmt.Sprintf("SyntaxError: %s (%s:%d:%d)", m.Text, loc.File, loc.Line, loc.Column))
			continue
		}
		lines = append(lines, "SyntaxError: "+m.Text)
	}
	return strings.Join(lines, "\n")
}
