package helm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeConcat(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   any
	}{
		{name: "no values", values: nil, want: nil},
		{name: "single", values: []any{map[string]any{"a": 1}}, want: map[string]any{"a": 1}},
		{
			name: "nested maps merge",
			values: []any{
				map[string]any{"a": map[string]any{"b": 1, "c": 2}},
				map[string]any{"a": map[string]any{"c": 3, "d": 4}},
			},
			want: map[string]any{"a": map[string]any{"b": 1, "c": 3, "d": 4}},
		},
		{
			name: "lists concatenate",
			values: []any{
				map[string]any{"l": []any{1, 2}},
				map[string]any{"l": []any{3}},
			},
			want: map[string]any{"l": []any{1, 2, 3}},
		},
		{
			name: "scalar replaces map",
			values: []any{
				map[string]any{"a": map[string]any{"b": 1}},
				map[string]any{"a": "flat"},
			},
			want: map[string]any{"a": "flat"},
		},
		{
			name:   "nil documents are skipped",
			values: []any{map[string]any{"a": 1}, nil},
			want:   map[string]any{"a": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeConcat(tt.values...))
		})
	}
}

func TestMergeConcat_DoesNotModifyInputs(t *testing.T) {
	left := map[string]any{"a": map[string]any{"b": 1}, "l": []any{1}}
	right := map[string]any{"a": map[string]any{"c": 2}, "l": []any{2}}

	_ = MergeConcat(left, right)

	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1}, "l": []any{1}}, left)
	assert.Equal(t, map[string]any{"a": map[string]any{"c": 2}, "l": []any{2}}, right)
}
