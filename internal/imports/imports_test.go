package imports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "default import and require",
			code: "import x from 'left-pad'; const y = require(\"right-pad\");",
			want: []string{"left-pad", "right-pad"},
		},
		{
			name: "side effect import",
			code: `import "reflect-metadata"`,
			want: []string{"reflect-metadata"},
		},
		{
			name: "named and namespace imports",
			code: "import { a, b as c } from 'lodash'\nimport * as R from \"ramda\"",
			want: []string{"lodash", "ramda"},
		},
		{
			name: "dynamic import",
			code: `const m = await import("chalk");`,
			want: []string{"chalk"},
		},
		{
			name: "duplicates collapse",
			code: "import a from 'x'\nimport b from 'x'\nrequire('x')",
			want: []string{"x"},
		},
		{
			name: "scoped and subpath specifiers kept verbatim",
			code: "import fp from 'lodash/fp'\nimport core from '@babel/core'",
			want: []string{"@babel/core", "lodash/fp"},
		},
		{
			name: "no imports",
			code: "console.log(1 + 1)",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.code))
		})
	}
}

func TestHasModuleSyntax(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"import x from 'y'", true},
		{"  import 'polyfill'", true},
		{"import {a} from 'b'", true},
		{"export default 42", true},
		{"export const a = 1", true},
		{"const x = require('y')", false},
		{"const m = import('y')", false},
		{"console.log('import x from y')", false},
		{"console.log(1)", false},
		{"important()", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HasModuleSyntax(tt.code), tt.code)
	}
}

func TestHasDynamicImport(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{`import("left-pad")`, true},
		{`const m = await import ( name )`, true},
		{`x.then(() => import('./a.js'))`, true},
		{`loader.import("x")`, false},
		{`reimport(1)`, false},
		{`import x from "y"`, false},
		{`console.log(1)`, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HasDynamicImport(tt.code), tt.code)
	}
}

func TestPackageName(t *testing.T) {
	tests := map[string]string{
		"lodash":               "lodash",
		"lodash/fp":            "lodash",
		"@babel/core":          "@babel/core",
		"@babel/core/lib/x":    "@babel/core",
		"node:fs":              "fs",
		"./local":              "",
		"/abs/path":            "",
		"https://esm.sh/react": "",
		"@broken":              "",
	}

	for in, want := range tests {
		assert.Equal(t, want, PackageName(in), in)
	}
}
