package screening

import (
	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/reply"
	"github.com/lukasbauer/callguard/internal/spam"
)

// Stats aggregates the sessions currently held in the store.
type Stats struct {
	TotalCalls  int            `json:"total_calls"`
	ByLanguage  map[string]int `json:"by_language"`
	SpamBlocked int            `json:"spam_blocked"`
	Legitimate  int            `json:"legitimate"`
	Active      int            `json:"active"`
}

// Summarize counts sessions per language and by score band. A session that
// was never classified keeps score 0 and counts as legitimate.
func Summarize(sessions []conversation.Session) Stats {
	st := Stats{ByLanguage: make(map[string]int, len(lang.Supported()))}
	for _, l := range lang.Supported() {
		st.ByLanguage[l.String()] = 0
	}

	for _, s := range sessions {
		st.TotalCalls++
		st.ByLanguage[s.Language.String()]++
		switch {
		case spam.IsSpam(s.SpamScore):
			st.SpamBlocked++
		case s.SpamScore < reply.StallThreshold:
			st.Legitimate++
		}
		if !s.State.IsTerminal() {
			st.Active++
		}
	}
	return st
}
