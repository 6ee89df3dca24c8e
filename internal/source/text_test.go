package source

import "testing"

func TestPlainText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<p>one</p><p>two</p>", "one two"},
		{"a<br>b<br/>c<BR />d", "a b c d"},
		{"&lt;tag&gt; &quot;q&quot;", `<tag> "q"`},
		{`<span class="h-card"><a href="u">@<span>alice</span></a></span> hi`, "@alice hi"},
		{`<a href="t" class="mention hashtag">#<span>golang</span></a>`, "#golang"},
		{"   spaced \n\t out  ", "spaced out"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
