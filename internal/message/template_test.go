package message

import (
	"errors"
	"testing"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tmpl string
		vars Vars
		want string
	}{
		{
			name: "name and full name",
			tmpl: "Hi {name}, {full_name}!",
			vars: Vars{Name: "alex", FullName: "Alex Doe"},
			want: "Hi alex, Alex Doe!",
		},
		{
			name: "missing attributes render empty",
			tmpl: "Hi {first_name}{last_name}.",
			vars: Vars{},
			want: "Hi .",
		},
		{
			name: "all placeholders",
			tmpl: "{name}|{first_name}|{last_name}|{full_name}|{username}",
			vars: Vars{Name: "a", FirstName: "b", LastName: "c", FullName: "b c", Username: "d"},
			want: "a|b|c|b c|d",
		},
		{
			name: "unknown placeholder passes through",
			tmpl: "Hi {nickname}",
			vars: Vars{Name: "alex"},
			want: "Hi {nickname}",
		},
		{
			name: "repeated placeholder",
			tmpl: "{name} {name}",
			vars: Vars{Name: "x"},
			want: "x x",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.tmpl, tt.vars); got != tt.want {
				t.Fatalf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderDoesNotReinterpretValues(t *testing.T) {
	t.Parallel()
	// A value containing a placeholder must land literally, never be
	// substituted a second time.
	got := Render("Hi {name}", Vars{Name: "{username}", Username: "evil"})
	if got != "Hi {username}" {
		t.Fatalf("Render = %q, substituted content was re-scanned", got)
	}
}

func TestValidateHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tmpl    string
		wantErr bool
	}{
		{name: "balanced", tmpl: "<b>Hi {name}</b> and <i>more</i>"},
		{name: "nested", tmpl: "<b><i>x</i></b>"},
		{name: "anchor with attributes", tmpl: `<a href="https://example.com">link</a>`},
		{name: "spoiler", tmpl: "<tg-spoiler>secret</tg-spoiler>"},
		{name: "no markup", tmpl: "plain text"},
		{name: "stray angle bracket", tmpl: "1 < 2", wantErr: true},
		{name: "unclosed", tmpl: "<b>Hi", wantErr: true},
		{name: "mismatched", tmpl: "<b>Hi</i>", wantErr: true},
		{name: "wrong nesting order", tmpl: "<b><i>x</b></i>", wantErr: true},
		{name: "unsupported tag", tmpl: "<script>x</script>", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tmpl, FormatHTML)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedTemplate) {
					t.Fatalf("Validate = %v, want ErrMalformedTemplate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(%q) = %v, want nil", tt.tmpl, err)
			}
		})
	}
}

func TestValidateMarkdown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tmpl    string
		wantErr bool
	}{
		{name: "balanced", tmpl: "*bold* and _italic_ and `code`"},
		{name: "fenced block", tmpl: "```\nsome * unbalanced _ inside\n```"},
		{name: "plain", tmpl: "no markup at all"},
		{name: "dangling bold", tmpl: "*bold", wantErr: true},
		{name: "dangling underscore", tmpl: "a _ b", wantErr: true},
		{name: "odd fence", tmpl: "```code", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tmpl, FormatMarkdown)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedTemplate) {
					t.Fatalf("Validate = %v, want ErrMalformedTemplate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(%q) = %v, want nil", tt.tmpl, err)
			}
		})
	}
}

func TestValidatePlainAcceptsAnything(t *testing.T) {
	t.Parallel()
	if err := Validate("<b>*_` anything goes", FormatPlain); err != nil {
		t.Fatalf("Validate plain = %v, want nil", err)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	if got := FormatHTML.ParseMode(); got != "HTML" {
		t.Fatalf("html parse mode = %q", got)
	}
	if got := FormatMarkdown.ParseMode(); got != "Markdown" {
		t.Fatalf("markdown parse mode = %q", got)
	}
	if got := FormatPlain.ParseMode(); got != "" {
		t.Fatalf("plain parse mode = %q, want empty", got)
	}
}
