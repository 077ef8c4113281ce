package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputEventString(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string is bare", "hello", "hello"},
		{"number", int64(2), "2"},
		{"nil", nil, "undefined"},
		{"object as JSON", map[string]any{"a": int64(1)}, `{"a":1}`},
		{"several arguments", []any{"sum:", int64(3), true}, "sum: 3 true"},
		{"nested array stays JSON", []any{[]any{int64(1), int64(2)}}, "[1,2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputEvent{Channel: ChannelLog, Value: tt.value}.String())
		})
	}
}
