package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "plain object",
			raw:  `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "object inside prose",
			raw:  `Sure, here is the result: {"a": 1} — hope that helps!`,
			want: `{"a": 1}`,
		},
		{
			name: "json fence",
			raw:  "```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "bare fence",
			raw:  "```\n[1, 2, 3]\n```",
			want: `[1, 2, 3]`,
		},
		{
			name: "fence with surrounding prose",
			raw:  "The answer:\n```json\n{\"ok\": true}\n```\nLet me know!",
			want: `{"ok": true}`,
		},
		{
			name: "array inside prose",
			raw:  `I picked [1, 2, 3] for you.`,
			want: `[1, 2, 3]`,
		},
		{
			name: "braces inside string literals",
			raw:  `{"text": "closing } brace and \" quote", "n": 1} trailing`,
			want: `{"text": "closing } brace and \" quote", "n": 1}`,
		},
		{
			name: "nested structures",
			raw:  `prefix {"a": {"b": [1, {"c": 2}]}} suffix`,
			want: `{"a": {"b": [1, {"c": 2}]}}`,
		},
		{
			name: "first opener wins",
			raw:  `[1, 2] and also {"a": 1}`,
			want: `[1, 2]`,
		},
		{
			name: "bare scalar falls through",
			raw:  "  0.42  ",
			want: "0.42",
		},
		{
			name: "bare word falls through",
			raw:  "approve",
			want: "approve",
		},
		{
			name: "unbalanced falls back to trimmed text",
			raw:  `{"a": 1`,
			want: `{"a": 1`,
		},
		{
			name:    "empty response",
			raw:     "   \n  ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractBoolean(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    bool
		wantErr bool
	}{
		{name: "plain yes", raw: "YES", want: true},
		{name: "plain no", raw: "NO", want: false},
		{name: "lowercase", raw: "yes", want: true},
		{name: "changed mind to yes", raw: "No. Wait, actually YES.", want: true},
		{name: "changed mind to no", raw: "YES... hmm, on reflection: no.", want: false},
		{name: "verdict in prose", raw: "After weighing the evidence my answer is YES.", want: true},
		{name: "neither keyword", raw: "maybe", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBoolean(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
