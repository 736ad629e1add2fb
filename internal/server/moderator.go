package server

import (
	"strings"

	"golang.org/x/text/cases"
)

// Moderator decides whether a payload is prohibited.
type Moderator interface {
	// Match returns the offending phrase when text is prohibited.
	Match(text string) (string, bool)
}

// PhraseModerator flags any payload containing one of its phrases,
// ignoring case.
type PhraseModerator struct {
	phrases []string
	folded  []string
}

// NewPhraseModerator builds a moderator for the given phrases. Blank phrases
// are ignored.
func NewPhraseModerator(phrases ...string) *PhraseModerator {
	m := &PhraseModerator{}
	caser := cases.Fold()
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m.phrases = append(m.phrases, p)
		m.folded = append(m.folded, caser.String(p))
	}
	return m
}

// Match implements Moderator.
func (m *PhraseModerator) Match(text string) (string, bool) {
	if m == nil || len(m.folded) == 0 || text == "" {
		return "", false
	}
	// A Caser keeps state between calls and is not safe to share.
	folded := cases.Fold().String(text)
	for i, phrase := range m.folded {
		if strings.Contains(folded, phrase) {
			return m.phrases[i], true
		}
	}
	return "", false
}

type nopModerator struct{}

func (nopModerator) Match(string) (string, bool) { return "", false }
