package screening

import (
	"time"

	"github.com/lukasbauer/callguard/internal/lang"
)

// Kind is the type of a voice-control directive.
type Kind string

const (
	KindSpeak  Kind = "speak"
	KindListen Kind = "listen"
	KindHangup Kind = "hangup"
)

// Directive is one instruction for the telephony layer. Directives are
// executed in order; anything after a listen only runs if the listen times out
// without a transcript.
type Directive struct {
	Kind Kind `json:"kind"`

	// Speak
	Text     string        `json:"text,omitempty"`
	Language lang.Language `json:"language,omitempty"`

	// Listen
	Languages []lang.Language `json:"languages,omitempty"`
	Timeout   time.Duration   `json:"timeout,omitempty"`
	Action    string          `json:"action,omitempty"`
	Hints     string          `json:"hints,omitempty"`
}

func Speak(text string, l lang.Language) Directive {
	return Directive{Kind: KindSpeak, Text: text, Language: l}
}

func Listen(languages []lang.Language, timeout time.Duration, action, hints string) Directive {
	return Directive{Kind: KindListen, Languages: languages, Timeout: timeout, Action: action, Hints: hints}
}

func Hangup() Directive {
	return Directive{Kind: KindHangup}
}
