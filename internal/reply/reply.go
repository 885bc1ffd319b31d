// Package reply produces what the assistant says back to a caller.
package reply

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/llm"
	"github.com/lukasbauer/callguard/internal/spam"
)

// Mode is the persona used for a reply.
type Mode int

const (
	ModePolite Mode = iota
	ModeStall
	ModeReject
	numModes
)

// StallThreshold is the lowest score answered in stall mode.
const StallThreshold = 4

func (m Mode) String() string {
	switch m {
	case ModePolite:
		return "polite"
	case ModeStall:
		return "stall"
	case ModeReject:
		return "reject"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) Valid() bool { return m >= ModePolite && m < numModes }

// Modes returns every mode.
func Modes() []Mode { return []Mode{ModePolite, ModeStall, ModeReject} }

// ModeForScore maps a spam score to the persona the call deserves.
func ModeForScore(score int) Mode {
	switch {
	case spam.IsSpam(score):
		return ModeReject
	case score >= StallThreshold:
		return ModeStall
	default:
		return ModePolite
	}
}

// quotes would break out of the spoken payload.
var quotes = strings.NewReplacer(`"`, "", "'", "", "“", "", "”", "", "‘", "", "’", "", "„", "")

// Generator produces replies through the inference service.
type Generator struct {
	llm    llm.Client
	logger *log.Logger
}

func NewGenerator(client llm.Client, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Generator{llm: client, logger: logger}
}

// Generate returns a reply to utterance in mode m and language l. It never
// returns an empty string: failures produce the fixed fallback for (m, l).
func (g *Generator) Generate(ctx context.Context, utterance string, history []conversation.Turn, m Mode, l lang.Language) string {
	t := lookup(m, l)
	if g.llm == nil {
		return t.fallback
	}

	out, err := g.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: t.system},
		{Role: llm.RoleUser, Content: fmt.Sprintf(t.user, spam.RenderHistory(history), utterance)},
	}, llm.Params{Operation: "generate_reply", Temperature: 0.7, MaxTokens: 100})
	if err != nil {
		g.logger.Printf("reply: generation failed (%s/%s): %v", m, l, err)
		return t.fallback
	}

	text := strings.TrimSpace(quotes.Replace(out))
	if text == "" {
		g.logger.Printf("reply: empty generation (%s/%s), using fallback", m, l)
		return t.fallback
	}
	return text
}
