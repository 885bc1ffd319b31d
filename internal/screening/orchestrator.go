// Package screening runs the per-call conversation: it greets the caller,
// identifies their language, scores each turn for spam and decides whether to
// keep talking or hang up.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/eventlog"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/notifications"
	"github.com/lukasbauer/callguard/internal/reply"
	"github.com/lukasbauer/callguard/internal/spam"
)

// Turn outcomes, also used as metric labels.
const (
	OutcomeGreeted  = "greeted"
	OutcomeNoSpeech = "no_speech"
	OutcomeRejected = "rejected"
	OutcomeStalled  = "stalled"
	OutcomeEngaged  = "engaged"
	OutcomeIgnored  = "ignored"
	OutcomeEnded    = "ended"
)

// End reasons recorded on terminated sessions.
const (
	EndSpam     = "spam"
	EndNoSpeech = "no_speech"
)

// DefaultTurnBudget keeps a speech turn inside the telephony webhook deadline.
const DefaultTurnBudget = 4 * time.Second

// errUnchanged aborts a store update without committing anything.
var errUnchanged = errors.New("screening: session unchanged")

// InboundCall is a new call reaching the subscriber's number.
type InboundCall struct {
	SessionID string
	Caller    string
	Callee    string
}

// SpeechResult carries what the caller said after a listen. Transcript is
// empty when the listen timed out or recognition failed.
type SpeechResult struct {
	SessionID  string
	Caller     string
	Transcript string
	Confidence *float64
}

// StatusUpdate reports a change in the call's telephony status.
type StatusUpdate struct {
	SessionID string
	Status    string
}

// Result is what one event produced.
type Result struct {
	SessionID  string             `json:"session_id"`
	State      conversation.State `json:"state"`
	Outcome    string             `json:"outcome"`
	Language   lang.Language      `json:"language"`
	Score      int                `json:"score"`
	Reply      string             `json:"reply,omitempty"`
	Directives []Directive        `json:"directives"`
}

// LanguageIdentifier decides which language a caller speaks.
type LanguageIdentifier interface {
	Identify(ctx context.Context, text string) lang.Detection
}

// SpamClassifier scores a conversation.
type SpamClassifier interface {
	Classify(ctx context.Context, utterance string, history []conversation.Turn, l lang.Language) spam.Verdict
}

// ReplyGenerator produces what the assistant says next.
type ReplyGenerator interface {
	Generate(ctx context.Context, utterance string, history []conversation.Turn, m reply.Mode, l lang.Language) string
}

// Recorder writes call events to the audit log.
type Recorder interface {
	LogAsync(callID string, eventType eventlog.EventType, data map[string]any)
}

// Notifier is told about calls blocked as spam.
type Notifier interface {
	NotifySpamBlocked(ctx context.Context, call notifications.SpamBlocked)
}

// Publisher receives every committed session change.
type Publisher interface {
	Publish(s conversation.Session)
}

// Observer receives metric samples.
type Observer interface {
	TurnCompleted(outcome string)
	LanguageIdentified(l lang.Language, method string)
	SetSessionsActive(n int)
}

// Config tunes the orchestrator.
type Config struct {
	DefaultLanguage lang.Language
	ListenTimeout   time.Duration
	// ContinueAction is where the telephony layer posts the next transcript.
	ContinueAction string
	// TurnBudget bounds all inference work of one speech turn. Collaborators
	// fall back once it runs out.
	TurnBudget time.Duration
}

// Deps are the collaborators of an Orchestrator. Store, Identifier, Classifier
// and Replies are required; the rest may be nil.
type Deps struct {
	Store      conversation.Store
	Identifier LanguageIdentifier
	Classifier SpamClassifier
	Replies    ReplyGenerator
	Logger     *log.Logger

	Events   Recorder
	Notifier Notifier
	Feed     Publisher
	Metrics  Observer
}

// Orchestrator is the call state machine. It is safe for concurrent use; turns
// of one call are serialized by the store.
type Orchestrator struct {
	cfg        Config
	store      conversation.Store
	identifier LanguageIdentifier
	classifier SpamClassifier
	replies    ReplyGenerator
	logger     *log.Logger

	events   Recorder
	notifier Notifier
	feed     Publisher
	metrics  Observer
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if !cfg.DefaultLanguage.Valid() {
		cfg.DefaultLanguage = lang.Default
	}
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = 5 * time.Second
	}
	if cfg.ContinueAction == "" {
		cfg.ContinueAction = "/voice/process-speech"
	}
	if cfg.TurnBudget <= 0 {
		cfg.TurnBudget = DefaultTurnBudget
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		identifier: deps.Identifier,
		classifier: deps.Classifier,
		replies:    deps.Replies,
		logger:     deps.Logger,
		events:     deps.Events,
		notifier:   deps.Notifier,
		feed:       deps.Feed,
		metrics:    deps.Metrics,
	}
	if o.logger == nil {
		o.logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	if o.events == nil {
		o.events = nopRecorder{}
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.feed == nil {
		o.feed = nopPublisher{}
	}
	if o.metrics == nil {
		o.metrics = nopObserver{}
	}
	return o
}

// HandleInbound answers a new call: greet, then listen in every supported
// language. A repeated event for a known call keeps its history.
func (o *Orchestrator) HandleInbound(ctx context.Context, ev InboundCall) (Result, error) {
	_, created, err := o.store.Create(ctx, ev.SessionID, ev.Caller, o.cfg.DefaultLanguage)
	if err != nil {
		return Result{}, fmt.Errorf("screening: create session: %w", err)
	}

	var terminated bool
	s, err := o.store.Update(ctx, ev.SessionID, func(s *conversation.Session) error {
		switch {
		case s.State.IsTerminal():
			terminated = true
			return errUnchanged
		case s.State == conversation.StateNew:
			s.State = conversation.StateAwaitingSpeech
			return nil
		default:
			return errUnchanged
		}
	})
	if errors.Is(err, errUnchanged) {
		s, _ = o.store.Get(ev.SessionID)
		err = nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("screening: start session: %w", err)
	}

	if terminated {
		o.logger.Printf("screening: inbound event for ended call %s, hanging up", ev.SessionID)
		o.metrics.TurnCompleted(OutcomeIgnored)
		return o.result(s, OutcomeIgnored, "", []Directive{Hangup()}), nil
	}

	if created {
		o.logger.Printf("screening: call %s from %s", ev.SessionID, ev.Caller)
		o.events.LogAsync(ev.SessionID, eventlog.EventCallStarted, map[string]any{
			"from": ev.Caller,
			"to":   ev.Callee,
		})
		o.feed.Publish(s)
		o.metrics.SetSessionsActive(o.store.Active())
	} else {
		o.logger.Printf("screening: duplicate inbound event for %s, keeping session", ev.SessionID)
	}
	o.metrics.TurnCompleted(OutcomeGreeted)

	listenIn := lang.Supported()
	hints := recognitionHints
	if s.LanguageDetected {
		listenIn, hints = []lang.Language{s.Language}, ""
	}
	p := phrases(s.Language)
	return o.result(s, OutcomeGreeted, "", []Directive{
		Speak(p.Greeting, s.Language),
		Listen(listenIn, o.cfg.ListenTimeout, o.cfg.ContinueAction, hints),
		Speak(p.Farewell, s.Language),
		Hangup(),
	}), nil
}

// turn collects what happened inside one speech update so side effects can
// run after the session lock is released.
type turn struct {
	outcome    string
	detection  *lang.Detection
	verdict    spam.Verdict
	mode       reply.Mode
	reply      string
	directives []Directive
}

// HandleSpeech processes one caller transcript.
func (o *Orchestrator) HandleSpeech(ctx context.Context, ev SpeechResult) (Result, error) {
	if ev.SessionID == "" {
		return Result{}, fmt.Errorf("screening: %w", conversation.ErrMissingID)
	}

	if _, ok := o.store.Get(ev.SessionID); !ok {
		// Evicted or never announced; continue the call from scratch.
		if _, created, err := o.store.Create(ctx, ev.SessionID, ev.Caller, o.cfg.DefaultLanguage); err != nil {
			return Result{}, fmt.Errorf("screening: create session: %w", err)
		} else if created {
			o.logger.Printf("screening: speech for unknown call %s, session created", ev.SessionID)
			o.events.LogAsync(ev.SessionID, eventlog.EventCallStarted, map[string]any{"from": ev.Caller, "late": true})
			o.metrics.SetSessionsActive(o.store.Active())
		}
	}

	transcript := strings.TrimSpace(ev.Transcript)
	var t turn

	s, err := o.store.Update(ctx, ev.SessionID, func(s *conversation.Session) error {
		if s.State.IsTerminal() {
			t.outcome = OutcomeIgnored
			t.directives = []Directive{Hangup()}
			return errUnchanged
		}

		if transcript == "" {
			s.Terminate(EndNoSpeech)
			t.outcome = OutcomeNoSpeech
			t.directives = []Directive{Speak(phrases(s.Language).NoUnderstanding, s.Language), Hangup()}
			return nil
		}

		s.State = conversation.StateProcessing

		turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnBudget)
		defer cancel()

		if !s.LanguageDetected {
			d := o.identifier.Identify(turnCtx, transcript)
			s.Language, s.LanguageDetected = d.Language, true
			t.detection = &d
		}

		now := time.Now().UTC()
		s.Append(conversation.RoleCaller, transcript, now)
		if ev.Confidence != nil {
			c := *ev.Confidence
			s.Turns[len(s.Turns)-1].Confidence = &c
		}

		t.verdict = o.classifier.Classify(turnCtx, transcript, s.Turns, s.Language)
		s.SpamScore, s.SpamReason, s.Classified = t.verdict.Score, t.verdict.Reason, true

		if spam.IsSpam(t.verdict.Score) {
			s.Terminate(EndSpam)
			t.outcome = OutcomeRejected
			t.directives = []Directive{Speak(phrases(s.Language).Rejection, s.Language), Hangup()}
			return nil
		}

		t.mode = reply.ModeForScore(t.verdict.Score)
		t.reply = o.replies.Generate(turnCtx, transcript, s.Turns, t.mode, s.Language)
		s.Append(conversation.RoleAssistant, t.reply, time.Now().UTC())
		s.State = conversation.StateContinuing

		t.outcome = OutcomeEngaged
		if t.mode == reply.ModeStall {
			t.outcome = OutcomeStalled
		}
		t.directives = []Directive{
			Speak(t.reply, s.Language),
			Listen([]lang.Language{s.Language}, o.cfg.ListenTimeout, o.cfg.ContinueAction, ""),
			Speak(phrases(s.Language).Farewell, s.Language),
			Hangup(),
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		s, _ = o.store.Get(ev.SessionID)
		o.metrics.TurnCompleted(t.outcome)
		return o.result(s, t.outcome, "", t.directives), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("screening: speech turn: %w", err)
	}

	o.afterSpeech(ctx, s, t)
	return o.result(s, t.outcome, t.reply, t.directives), nil
}

func (o *Orchestrator) afterSpeech(ctx context.Context, s conversation.Session, t turn) {
	o.metrics.TurnCompleted(t.outcome)

	if t.detection != nil {
		o.logger.Printf("screening: call %s language %s (%s)", s.ID, t.detection.Language, t.detection.Method)
		o.metrics.LanguageIdentified(t.detection.Language, t.detection.Method)
		o.events.LogAsync(s.ID, eventlog.EventLanguageDetected, map[string]any{
			"language": t.detection.Language,
			"method":   t.detection.Method,
		})
	}

	switch t.outcome {
	case OutcomeNoSpeech:
		o.logger.Printf("screening: call %s no speech, hanging up", s.ID)
		o.events.LogAsync(s.ID, eventlog.EventNoSpeech, nil)

	case OutcomeRejected:
		o.logger.Printf("screening: call %s blocked as spam (%d/10): %s", s.ID, t.verdict.Score, t.verdict.Reason)
		o.events.LogAsync(s.ID, eventlog.EventSpamScored, verdictData(t.verdict))
		o.events.LogAsync(s.ID, eventlog.EventCallRejected, map[string]any{"score": t.verdict.Score})
		o.notifier.NotifySpamBlocked(ctx, notifications.SpamBlocked{
			CallID:   s.ID,
			Caller:   s.Caller,
			Language: s.Language.String(),
			Score:    t.verdict.Score,
			Reason:   t.verdict.Reason,
		})

	default:
		o.logger.Printf("screening: call %s scored %d/10, replying in %s mode", s.ID, t.verdict.Score, t.mode)
		o.events.LogAsync(s.ID, eventlog.EventSpamScored, verdictData(t.verdict))
		o.events.LogAsync(s.ID, eventlog.EventReplyGenerated, map[string]any{
			"mode":  t.mode.String(),
			"reply": t.reply,
		})
	}

	o.feed.Publish(s)
	if s.Terminated {
		o.metrics.SetSessionsActive(o.store.Active())
	}
}

// terminalStatuses are telephony statuses after which the call is gone.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// HandleStatus ends the session once the telephony layer reports the call is
// over. Non-terminal statuses are ignored.
func (o *Orchestrator) HandleStatus(ctx context.Context, ev StatusUpdate) (Result, error) {
	status := strings.ToLower(strings.TrimSpace(ev.Status))
	if !terminalStatuses[status] {
		s, _ := o.store.Get(ev.SessionID)
		return o.result(s, OutcomeIgnored, "", nil), nil
	}

	s, err := o.store.Update(ctx, ev.SessionID, func(s *conversation.Session) error {
		if s.State.IsTerminal() {
			return errUnchanged
		}
		s.Terminate(status)
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		s, _ = o.store.Get(ev.SessionID)
		return o.result(s, OutcomeIgnored, "", nil), nil
	case err != nil:
		return Result{}, fmt.Errorf("screening: status %s: %w", status, err)
	}

	o.logger.Printf("screening: call %s ended (%s)", s.ID, status)
	o.events.LogAsync(s.ID, eventlog.EventCallEnded, map[string]any{"status": status, "turns": len(s.Turns)})
	o.feed.Publish(s)
	o.metrics.SetSessionsActive(o.store.Active())
	return o.result(s, OutcomeEnded, "", nil), nil
}

// Session returns the committed state of one call.
func (o *Orchestrator) Session(id string) (conversation.Session, bool) {
	return o.store.Get(id)
}

// Sessions returns every call held in the store.
func (o *Orchestrator) Sessions() []conversation.Session {
	return o.store.List()
}

// Stats summarizes every call held in the store.
func (o *Orchestrator) Stats() Stats {
	return Summarize(o.store.List())
}

func (o *Orchestrator) result(s conversation.Session, outcome, replyText string, directives []Directive) Result {
	return Result{
		SessionID:  s.ID,
		State:      s.State,
		Outcome:    outcome,
		Language:   s.Language,
		Score:      s.SpamScore,
		Reply:      replyText,
		Directives: directives,
	}
}

func verdictData(v spam.Verdict) map[string]any {
	return map[string]any{
		"score":    v.Score,
		"is_spam":  v.IsSpam,
		"reason":   v.Reason,
		"fallback": v.Fallback,
	}
}

type nopRecorder struct{}

func (nopRecorder) LogAsync(string, eventlog.EventType, map[string]any) {}

type nopNotifier struct{}

func (nopNotifier) NotifySpamBlocked(context.Context, notifications.SpamBlocked) {}

type nopPublisher struct{}

func (nopPublisher) Publish(conversation.Session) {}

type nopObserver struct{}

func (nopObserver) TurnCompleted(string) {}

func (nopObserver) LanguageIdentified(lang.Language, string) {}

func (nopObserver) SetSessionsActive(int) {}
