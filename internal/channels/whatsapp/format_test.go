package whatsapp

import "testing"

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "this is **important**", "this is *important*"},
		{"underscore bold", "__also__ bold", "*also* bold"},
		{"strike", "~~old~~ new", "~old~ new"},
		{"header", "## Summary\nbody", "*Summary*\nbody"},
		{"link", "see [docs](https://x.dev)", "see docs (https://x.dev)"},
		{"image", "![diagram](https://x.dev/a.png)", "https://x.dev/a.png"},
		{"inline code untouched", "run `a **b** c` now", "run `a **b** c` now"},
		{"angle brackets kept", "returns Vec<T> or <nil>", "returns Vec<T> or <nil>"},
		{"fence language dropped", "```go\nx := **y**\n```", "```x := **y**\n```"},
		{"blank lines collapsed", "a\n\n\n\nb", "a\n\nb"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMessage(tt.in); got != tt.want {
				t.Errorf("FormatMessage(%q)\n got %q\nwant %q", tt.in, got, tt.want)
			}
		})
	}
}
