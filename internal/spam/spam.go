// Package spam scores how likely a call is to be an unsolicited sales or scam
// attempt.
package spam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/llm"
)

const (
	// Threshold is the lowest score treated as spam.
	Threshold = 7
	// NeutralScore is reported when the call could not be classified.
	NeutralScore = 5

	MinScore = 0
	MaxScore = 10

	scorePrefix  = "SPAM_SCORE:"
	reasonPrefix = "REASON:"
)

var ErrNoScore = errors.New("spam: no SPAM_SCORE line in response")

// Verdict is the result of classifying a call.
type Verdict struct {
	IsSpam bool   `json:"is_spam"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
	// Fallback is set when the score is the neutral default rather than a
	// model judgement.
	Fallback bool `json:"fallback,omitempty"`
}

// IsSpam reports whether score crosses the spam threshold.
func IsSpam(score int) bool { return score >= Threshold }

// Neutral returns the verdict used when classification failed.
func Neutral(l lang.Language, cause error) Verdict {
	return Verdict{
		IsSpam:   false,
		Score:    NeutralScore,
		Reason:   fmt.Sprintf("%s: %v", localized(errorPrefix, l), cause),
		Fallback: true,
	}
}

// Classifier asks the inference service to score a conversation.
type Classifier struct {
	llm    llm.Client
	logger *log.Logger
}

func NewClassifier(client llm.Client, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Classifier{llm: client, logger: logger}
}

// Classify scores the latest caller utterance in the context of history. It
// never fails: any inference or parse problem yields the neutral verdict.
func (c *Classifier) Classify(ctx context.Context, utterance string, history []conversation.Turn, l lang.Language) Verdict {
	if c.llm == nil {
		return Neutral(l, llm.ErrNotConfigured)
	}

	template, ok := prompts[l]
	if !ok {
		template = prompts[lang.Default]
	}

	out, err := c.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(template, RenderHistory(history), utterance)},
	}, llm.Params{Operation: "classify_spam", Temperature: 0.3, MaxTokens: 200})
	if err != nil {
		c.logger.Printf("spam: classification failed: %v", err)
		return Neutral(l, err)
	}

	v, err := ParseVerdict(out, l)
	if err != nil {
		c.logger.Printf("spam: unparseable response %q: %v", out, err)
		return Neutral(l, err)
	}
	return v
}

// ParseVerdict extracts the score and rationale from a model response. Lines
// are matched by prefix after trimming; anything else is ignored. Scores are
// clamped to 0..10.
func ParseVerdict(out string, l lang.Language) (Verdict, error) {
	var (
		score     int
		hasScore  bool
		reason    string
		hasReason bool
	)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case !hasScore && strings.HasPrefix(line, scorePrefix):
			raw := strings.TrimSpace(strings.TrimPrefix(line, scorePrefix))
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Verdict{}, fmt.Errorf("spam: malformed score %q: %w", raw, err)
			}
			score, hasScore = clamp(n), true
		case !hasReason && strings.HasPrefix(line, reasonPrefix):
			reason = strings.TrimSpace(strings.TrimPrefix(line, reasonPrefix))
			hasReason = reason != ""
		}
	}
	if !hasScore {
		return Verdict{}, ErrNoScore
	}
	if !hasReason {
		reason = localized(noReason, l)
	}
	return Verdict{IsSpam: IsSpam(score), Score: score, Reason: reason}, nil
}

// RenderHistory formats turns as "role: content" lines.
func RenderHistory(history []conversation.Turn) string {
	var b strings.Builder
	for i, t := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func clamp(n int) int {
	return min(max(n, MinScore), MaxScore)
}
