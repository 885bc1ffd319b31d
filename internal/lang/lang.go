// Package lang defines the fixed set of languages a screened call can be held in
// and identifies which one a caller is speaking.
package lang

import (
	"slices"
	"strings"

	"golang.org/x/text/language"
)

// Language is a supported conversation language, identified by its ISO 639-1 code.
type Language string

const (
	Italian Language = "it"
	English Language = "en"
	Polish  Language = "pl"
)

// Default is the language a call starts in until the caller's language is known.
const Default = Italian

var supported = []Language{Italian, English, Polish}

// Supported returns every supported language in a stable order.
func Supported() []Language {
	return slices.Clone(supported)
}

// Parse maps a two-letter code (any case, surrounding whitespace allowed) to a
// supported language.
func Parse(s string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", false
	}
	return l, true
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	return slices.Contains(supported, l)
}

func (l Language) String() string { return string(l) }

// Voice describes how text in a language is spoken back to the caller.
type Voice struct {
	Name   string       // Twilio <Say> voice, e.g. Polly.Joey
	Locale language.Tag // BCP 47 tag used for both speech synthesis and recognition
}

var voices = map[Language]Voice{
	Italian: {Name: "Polly.Giorgio", Locale: language.MustParse("it-IT")},
	English: {Name: "Polly.Joey", Locale: language.MustParse("en-US")},
	Polish:  {Name: "Polly.Jacek", Locale: language.MustParse("pl-PL")},
}

// Voice returns the voice configuration for l. Unsupported languages get the
// default language's voice.
func (l Language) Voice() Voice {
	if v, ok := voices[l]; ok {
		return v
	}
	return voices[Default]
}

// Locale returns the BCP 47 locale string for l (e.g. "pl-PL").
func (l Language) Locale() string {
	return l.Voice().Locale.String()
}

// Locales returns the locale strings for ls, in order.
func Locales(ls []Language) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Locale())
	}
	return out
}
