package lang

import (
	"context"
	"log"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lukasbauer/callguard/internal/llm"
)

// Detection methods, reported alongside the detected language.
const (
	MethodLexical = "lexical"
	MethodModel   = "model"
	MethodDefault = "default"
)

// lexicons hold common words per language. Matching is by substring, so short
// entries like "si" and "no" also hit inside longer words.
var lexicons = map[Language][]string{
	Italian: {"ciao", "buongiorno", "salve", "pronto", "grazie", "prego", "si", "no", "sono", "chiamo"},
	English: {"hello", "hi", "good", "morning", "thanks", "yes", "please", "call", "calling", "offer"},
	Polish:  {"cześć", "dzień", "dobry", "halo", "dzięki", "tak", "nie", "jestem", "dzwonię", "proszę"},
}

const (
	detectSystemPrompt = "You detect language. Reply ONLY with: 'it' for Italian, 'en' for English, or 'pl' for Polish."
	detectUserPrompt   = "Detect language: "
)

// Detection is the outcome of identifying an utterance's language.
type Detection struct {
	Language Language
	Method   string
}

// Identifier classifies utterances into a supported language: a lexical vote
// first, the inference service only when the vote has no strict winner.
type Identifier struct {
	llm      llm.Client
	fallback Language
	logger   *log.Logger
}

// NewIdentifier creates an Identifier. fallback is returned whenever the model
// cannot give a usable answer; an invalid fallback is replaced with Default.
func NewIdentifier(client llm.Client, fallback Language, logger *log.Logger) *Identifier {
	if !fallback.Valid() {
		fallback = Default
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Identifier{llm: client, fallback: fallback, logger: logger}
}

// Detect returns the language of text.
func (id *Identifier) Detect(ctx context.Context, text string) Language {
	return id.Identify(ctx, text).Language
}

// Identify returns the language of text and how it was decided. It never fails.
func (id *Identifier) Identify(ctx context.Context, text string) Detection {
	if l, ok := LexicalWinner(text); ok {
		return Detection{Language: l, Method: MethodLexical}
	}

	if id.llm == nil {
		return Detection{Language: id.fallback, Method: MethodDefault}
	}

	out, err := id.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: detectSystemPrompt},
		{Role: llm.RoleUser, Content: detectUserPrompt + text},
	}, llm.Params{Operation: "detect_language", Temperature: 0, MaxTokens: 5})
	if err != nil {
		id.logger.Printf("lang: model detection failed, using %s: %v", id.fallback, err)
		return Detection{Language: id.fallback, Method: MethodDefault}
	}

	l, ok := Parse(strings.Trim(strings.TrimSpace(out), `'".`))
	if !ok {
		id.logger.Printf("lang: model answered %q, using %s", out, id.fallback)
		return Detection{Language: id.fallback, Method: MethodDefault}
	}
	return Detection{Language: l, Method: MethodModel}
}

// Scores counts lexicon hits for every supported language in text.
func Scores(text string) map[Language]int {
	// Casers keep state and are not safe for concurrent use.
	lower := cases.Lower(language.Und).String(text)

	scores := make(map[Language]int, len(supported))
	for _, l := range supported {
		for _, w := range lexicons[l] {
			if strings.Contains(lower, w) {
				scores[l]++
			}
		}
	}
	return scores
}

// LexicalWinner returns the language whose lexicon count strictly exceeds every
// other language's count.
func LexicalWinner(text string) (Language, bool) {
	scores := Scores(text)

	var best Language
	bestScore, tied := -1, false
	for _, l := range supported {
		switch s := scores[l]; {
		case s > bestScore:
			best, bestScore, tied = l, s, false
		case s == bestScore:
			tied = true
		}
	}
	if tied || bestScore <= 0 {
		return "", false
	}
	return best, true
}
