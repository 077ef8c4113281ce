package executor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// String renders the event the way a terminal console would: strings are
// printed bare and everything else as JSON. A list value prints like an
// argument list, joined with spaces, since the event does not record the
// argument count.
func (e OutputEvent) String() string {
	if values, ok := e.Value.([]any); ok {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = formatValue(v)
		}
		return strings.Join(parts, " ")
	}
	return formatValue(e.Value)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "undefined"
	case string:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
