// Package message renders outgoing message templates. Rendering is a pure
// function: placeholder substitution against a target's attributes, with
// structural validation of formatting markup up front so a malformed
// template fails the run before any send.
package message

import (
	"errors"
	"fmt"
	"strings"
)

// Format is the declared formatting mode of a template.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ParseMode returns the transport parse mode for the format.
func (f Format) ParseMode() string {
	switch f {
	case FormatHTML:
		return "HTML"
	case FormatMarkdown:
		return "Markdown"
	default:
		return ""
	}
}

var ErrMalformedTemplate = errors.New("malformed template")

// Vars are the attribute values substituted into a template. Missing
// attributes render as empty strings.
type Vars struct {
	Name      string
	FirstName string
	LastName  string
	FullName  string
	Username  string
}

// Render substitutes the recognized placeholders. Replacement is a single
// literal pass: substituted content is never re-scanned, so a target's
// display name cannot smuggle in placeholders or markup of its own.
func Render(tmpl string, v Vars) string {
	r := strings.NewReplacer(
		"{name}", v.Name,
		"{first_name}", v.FirstName,
		"{last_name}", v.LastName,
		"{full_name}", v.FullName,
		"{username}", v.Username,
	)
	return r.Replace(tmpl)
}

// Validate checks the template's markup structure for the declared format.
// Detection is structural (tag balance), not by attempting a send.
func Validate(tmpl string, format Format) error {
	switch format {
	case FormatHTML:
		return validateHTML(tmpl)
	case FormatMarkdown:
		return validateMarkdown(tmpl)
	case FormatPlain, "":
		return nil
	default:
		return fmt.Errorf("%w: unknown format %q", ErrMalformedTemplate, format)
	}
}

// htmlTags are the formatting tags the transport understands.
var htmlTags = map[string]bool{
	"b": true, "strong": true, "i": true, "em": true, "u": true, "ins": true,
	"s": true, "strike": true, "del": true, "a": true, "code": true, "pre": true,
	"span": true, "tg-spoiler": true, "blockquote": true,
}

func validateHTML(tmpl string) error {
	var stack []string
	s := tmpl
	for {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			break
		}
		s = s[i+1:]
		j := strings.IndexByte(s, '>')
		if j < 0 {
			return fmt.Errorf("%w: unterminated tag", ErrMalformedTemplate)
		}
		tag := strings.TrimSpace(s[:j])
		s = s[j+1:]
		if tag == "" {
			return fmt.Errorf("%w: empty tag", ErrMalformedTemplate)
		}

		closing := strings.HasPrefix(tag, "/")
		tag = strings.TrimPrefix(tag, "/")
		// Strip attributes: `a href="..."` -> `a`.
		if k := strings.IndexAny(tag, " \t"); k >= 0 {
			tag = tag[:k]
		}
		tag = strings.ToLower(tag)
		if !htmlTags[tag] {
			return fmt.Errorf("%w: unsupported tag <%s>", ErrMalformedTemplate, tag)
		}

		if closing {
			if len(stack) == 0 || stack[len(stack)-1] != tag {
				return fmt.Errorf("%w: unexpected </%s>", ErrMalformedTemplate, tag)
			}
			stack = stack[:len(stack)-1]
		} else {
			stack = append(stack, tag)
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("%w: unclosed <%s>", ErrMalformedTemplate, stack[len(stack)-1])
	}
	return nil
}

// validateMarkdown checks that paired markers (*, _, `, ```) occur an even
// number of times outside code spans.
func validateMarkdown(tmpl string) error {
	if n := strings.Count(tmpl, "```"); n%2 != 0 {
		return fmt.Errorf("%w: unbalanced ``` fence", ErrMalformedTemplate)
	}
	// Remove fenced blocks, then count inline markers.
	parts := strings.Split(tmpl, "```")
	var plain strings.Builder
	for i := 0; i < len(parts); i += 2 {
		plain.WriteString(parts[i])
	}
	text := plain.String()
	for _, marker := range []string{"`", "*", "_"} {
		if strings.Count(text, marker)%2 != 0 {
			return fmt.Errorf("%w: unbalanced %q", ErrMalformedTemplate, marker)
		}
	}
	return nil
}
