// Package conversation holds per-call screening state: the turn history, the
// latest spam verdict, and where the call is in its lifecycle.
package conversation

import (
	"slices"
	"time"

	"github.com/lukasbauer/callguard/internal/lang"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance. Turns are never edited once appended.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Confidence *float64  `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

// State is the position of a call in the screening state machine.
type State string

const (
	StateNew            State = "NEW"
	StateAwaitingSpeech State = "AWAITING_SPEECH"
	StateProcessing     State = "PROCESSING"
	StateContinuing     State = "CONTINUING"
	StateTerminated     State = "TERMINATED"
)

// IsTerminal reports whether no further turns are accepted in s.
func (s State) IsTerminal() bool { return s == StateTerminated }

// Session is the screening state of one call.
type Session struct {
	ID     string `json:"call_sid"`
	Caller string `json:"from"`

	Turns []Turn `json:"messages"`

	SpamScore  int    `json:"spam_score"`
	SpamReason string `json:"spam_reason,omitempty"`
	Classified bool   `json:"classified"`

	Language         lang.Language `json:"language"`
	LanguageDetected bool          `json:"language_detected"`

	State      State  `json:"state"`
	Terminated bool   `json:"terminated"`
	EndReason  string `json:"end_reason,omitempty"`

	// Version starts at 1 and grows by one with every committed update.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds a turn to the end of the history.
func (s *Session) Append(role Role, content string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, At: at})
}

// CallerTurns returns how many turns the caller has spoken.
func (s *Session) CallerTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RoleCaller {
			n++
		}
	}
	return n
}

// LastTurn returns the most recent turn, if any.
func (s *Session) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Terminate marks the session as finished for reason.
func (s *Session) Terminate(reason string) {
	s.State = StateTerminated
	s.Terminated = true
	if s.EndReason == "" {
		s.EndReason = reason
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	s.Turns = slices.Clone(s.Turns)
	for i := range s.Turns {
		if c := s.Turns[i].Confidence; c != nil {
			v := *c
			s.Turns[i].Confidence = &v
		}
	}
	return s
}

// isPrefixOf reports whether every turn of a appears unchanged at the start of b.
func isPrefixOf(a, b []Turn) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if !sameTurn(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameTurn(a, b Turn) bool {
	if a.Role != b.Role || a.Content != b.Content || !a.At.Equal(b.At) {
		return false
	}
	switch {
	case a.Confidence == nil && b.Confidence == nil:
		return true
	case a.Confidence == nil || b.Confidence == nil:
		return false
	default:
		return *a.Confidence == *b.Confidence
	}
}
