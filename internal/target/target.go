// Package target models recipients: identifier normalization,
// case-insensitive de-duplication and per-run delivery state.
package target

import (
	"regexp"
	"strconv"
	"strings"

	"blastbot/internal/message"
	"blastbot/internal/transport"
)

// State is a target's delivery state within one run. Terminal states are
// assigned exactly once and never overwritten.
type State string

const (
	StatePending          State = "pending"
	StateSent             State = "sent"
	StateFailed           State = "failed"
	StateSkippedDuplicate State = "skipped_duplicate"
	StateSkippedInvalid   State = "skipped_invalid"
)

// Terminal reports whether no further attempt may touch this target.
func (s State) Terminal() bool { return s != StatePending }

// usernameRE is the platform's public handle shape.
var usernameRE = regexp.MustCompile(`^[A-Za-z0-9_]{5,32}$`)

// Spec is one raw entry from the operator's target list.
type Spec struct {
	Identifier string
	FirstName  string
	LastName   string
}

// Target is a recipient owed at most one successful send in a run.
type Target struct {
	Raw    string
	Handle string // normalized public handle ("" when numeric)
	UserID int64  // numeric id (0 when handle-addressed)

	FirstName string
	LastName  string

	State    State
	Attempts int
	LastErr  string
}

// Key is the identity used for de-duplication and result records:
// lowercased handle, or "id:<n>" for numeric targets. Invalid entries
// keep their raw text so they never collide with each other.
func (t *Target) Key() string {
	if t.Handle != "" {
		return strings.ToLower(t.Handle)
	}
	if t.UserID != 0 {
		return "id:" + strconv.FormatInt(t.UserID, 10)
	}
	return "raw:" + strings.ToLower(strings.TrimSpace(t.Raw))
}

// Wire converts to the transport's addressing form.
func (t *Target) Wire() transport.Target {
	return transport.Target{Handle: t.Handle, UserID: t.UserID}
}

// Vars builds the template substitution values. Absent attributes stay
// empty; {name} prefers the first name, then the handle.
func (t *Target) Vars() message.Vars {
	full := strings.TrimSpace(t.FirstName + " " + t.LastName)
	name := t.FirstName
	if name == "" {
		name = t.Handle
	}
	return message.Vars{
		Name:      name,
		FirstName: t.FirstName,
		LastName:  t.LastName,
		FullName:  full,
		Username:  t.Handle,
	}
}

// normalize strips common prefixes from a raw identifier:
// "@bob", "t.me/bob", "https://t.me/bob" all become "bob".
func normalize(raw string) string {
	s := strings.TrimSpace(raw)
	for _, p := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(strings.ToLower(s), p) {
			s = s[len(p):]
			break
		}
	}
	return strings.TrimPrefix(s, "@")
}

// Parse classifies one spec. ok=false means the identifier is not a valid
// handle or numeric id; the returned target is then already in
// skipped_invalid state.
func Parse(spec Spec) (*Target, bool) {
	t := &Target{
		Raw:       spec.Identifier,
		FirstName: strings.TrimSpace(spec.FirstName),
		LastName:  strings.TrimSpace(spec.LastName),
		State:     StatePending,
	}

	s := normalize(spec.Identifier)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		t.UserID = id
		return t, true
	}
	if usernameRE.MatchString(s) {
		t.Handle = s
		return t, true
	}
	t.State = StateSkippedInvalid
	return t, false
}

// Prepare parses, validates and de-duplicates a raw list. The first
// occurrence of an identity stays pending; later occurrences become
// skipped_duplicate, invalid entries skipped_invalid. All entries are
// returned so every input line has an auditable state.
func Prepare(specs []Spec) []*Target {
	out := make([]*Target, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, sp := range specs {
		t, ok := Parse(sp)
		if ok {
			if seen[t.Key()] {
				t.State = StateSkippedDuplicate
			} else {
				seen[t.Key()] = true
			}
		}
		out = append(out, t)
	}
	return out
}
