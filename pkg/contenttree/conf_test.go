// SPDX-License-Identifier: MPL-2.0

package contenttree

import (
	"errors"
	"testing"
)

func TestParseConf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    map[string]string
		wantErr bool
	}{
		{
			name:    "simple pairs",
			content: "name = mymod\ntitle = My Mod\n",
			want:    map[string]string{"name": "mymod", "title": "My Mod"},
		},
		{
			name:    "comments and blanks skipped",
			content: "# a comment\n\nname = mymod\n",
			want:    map[string]string{"name": "mymod"},
		},
		{
			name:    "multiline value",
			content: "description = \"\"\"\nline one\nline two\n\"\"\"\nname = mymod\n",
			want:    map[string]string{"description": "line one\nline two", "name": "mymod"},
		},
		{
			name:    "value containing equals",
			content: "description = a = b\n",
			want:    map[string]string{"description": "a = b"},
		},
		{
			name:    "later key wins",
			content: "name = one\nname = two\n",
			want:    map[string]string{"name": "two"},
		},
		{
			name:    "missing equals",
			content: "name mymod\n",
			wantErr: true,
		},
		{
			name:    "empty key",
			content: "= value\n",
			wantErr: true,
		},
		{
			name:    "unterminated multiline",
			content: "description = \"\"\"\nnever closed\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseConf(tt.content)
			if tt.wantErr {
				var syntaxErr *ConfSyntaxError
				if !errors.As(err, &syntaxErr) {
					t.Fatalf("expected ConfSyntaxError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for key, want := range tt.want {
				if got[key] != want {
					t.Errorf("key %q = %q, want %q", key, got[key], want)
				}
			}
		})
	}
}
