// Package session holds the "last used" values of one editing session. A
// Session is created with the pane or batch dialog that uses it and
// discarded with it; nothing here is process-global.
package session

import "sync"

// LastCitation remembers the citation most recently attached so the next
// attach can default to it.
type LastCitation struct {
	CitationID int64  `json:"citationId"`
	Pages      string `json:"pages,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Session is safe for concurrent use.
type Session struct {
	mu           sync.Mutex
	lastCitation *LastCitation
}

func New() *Session { return &Session{} }

func (s *Session) LastCitation() (LastCitation, bool) {
	if s == nil {
		return LastCitation{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCitation == nil {
		return LastCitation{}, false
	}
	return *s.lastCitation, true
}

func (s *Session) SetLastCitation(c LastCitation) {
	if s == nil || c.CitationID <= 0 {
		return
	}
	s.mu.Lock()
	s.lastCitation = &c
	s.mu.Unlock()
}
