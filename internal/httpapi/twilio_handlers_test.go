package httpapi

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/llm/llmtest"
	"github.com/lukasbauer/callguard/internal/reply"
	"github.com/lukasbauer/callguard/internal/screening"
	"github.com/lukasbauer/callguard/internal/spam"
)

type webhookCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *webhookCounter) WebhookHandled(event, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[event+"/"+status]++
}

func (c *webhookCounter) count(event, status string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[event+"/"+status]
}

type testServer struct {
	handler http.Handler
	orch    *screening.Orchestrator
	store   *conversation.MemoryStore
	fake    *llmtest.Fake
	calls   *CallRegistry
	feed    *Feed
	webhook *webhookCounter
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	ts := &testServer{
		store:   conversation.NewMemoryStore(0),
		fake:    llmtest.New(),
		calls:   NewCallRegistry(),
		feed:    NewFeed(quiet),
		webhook: &webhookCounter{},
	}
	ts.orch = screening.New(screening.Config{DefaultLanguage: lang.Italian}, screening.Deps{
		Store:      ts.store,
		Identifier: lang.NewIdentifier(ts.fake, lang.Italian, quiet),
		Classifier: spam.NewClassifier(ts.fake, quiet),
		Replies:    reply.NewGenerator(ts.fake, quiet),
		Logger:     quiet,
		Feed:       ts.feed,
	})
	ts.handler = NewRouter(cfg, quiet, Deps{
		Screener: ts.orch,
		Calls:    ts.calls,
		Feed:     ts.feed,
		Metrics:  ts.webhook,
	})
	return ts
}

func (ts *testServer) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// parsedTwiML is a loose reading of a TwiML document for assertions.
type parsedTwiML struct {
	Verbs []struct {
		XMLName       xml.Name
		Voice         string `xml:"voice,attr"`
		Language      string `xml:"language,attr"`
		Timeout       string `xml:"timeout,attr"`
		Action        string `xml:"action,attr"`
		Input         string `xml:"input,attr"`
		SpeechTimeout string `xml:"speechTimeout,attr"`
		Hints         string `xml:"hints,attr"`
		Reason        string `xml:"reason,attr"`
		Text          string `xml:",chardata"`
	} `xml:",any"`
}

func (p parsedTwiML) names() []string {
	out := make([]string, 0, len(p.Verbs))
	for _, v := range p.Verbs {
		out = append(out, v.XMLName.Local)
	}
	return out
}

func parseTwiML(t *testing.T, rec *httptest.ResponseRecorder) parsedTwiML {
	t.Helper()
	assert.Equal(t, "text/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, xml.Header), "missing XML declaration: %s", body)
	var p parsedTwiML
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &p), body)
	return p
}

func TestTwiMLRendering(t *testing.T) {
	r := &Router{cfg: RouterConfig{PublicBaseURL: "https://guard.example.com/"}}

	resp := r.renderTwiML([]screening.Directive{
		screening.Speak("Halo, kto mówi?", lang.Polish),
		screening.Listen([]lang.Language{lang.Italian, lang.English}, 5*time.Second, "/voice/process-speech", "italiano, english"),
		screening.Hangup(),
	})

	out, err := xml.Marshal(resp)
	require.NoError(t, err)
	xmlStr := string(out)

	assert.Equal(t,
		`<Response>`+
			`<Say voice="Polly.Jacek" language="pl-PL">Halo, kto mówi?</Say>`+
			`<Gather input="speech" language="it-IT, en-US" timeout="5" action="https://guard.example.com/voice/process-speech" method="POST" speechTimeout="auto" hints="italiano, english"></Gather>`+
			`<Hangup></Hangup>`+
			`</Response>`,
		xmlStr)
}

func TestTwiMLEscapesText(t *testing.T) {
	r := &Router{}
	out, err := xml.Marshal(r.renderTwiML([]screening.Directive{screening.Speak(`Tom & "Jerry" <3`, lang.English)}))
	require.NoError(t, err)
	assert.Contains(t, string(out), `Tom &amp; &#34;Jerry&#34; &lt;3`)
}

func TestActionURL(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		action string
		want   string
	}{
		{"relative without base", "", "/voice/process-speech", "/voice/process-speech"},
		{"base with trailing slash", "https://a.example/", "/voice/process-speech", "https://a.example/voice/process-speech"},
		{"base without slash", "https://a.example", "voice/process-speech", "https://a.example/voice/process-speech"},
		{"absolute action kept", "https://a.example", "https://b.example/x", "https://b.example/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Router{cfg: RouterConfig{PublicBaseURL: tt.base}}
			assert.Equal(t, tt.want, r.actionURL(tt.action))
		})
	}
}

func TestVoiceIncomingGreets(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA1"}, "From": {"+15551234"}, "To": {"+390200"}})
	require.Equal(t, http.StatusOK, rec.Code)

	tw := parseTwiML(t, rec)
	assert.Equal(t, []string{"Say", "Gather", "Say", "Hangup"}, tw.names())
	assert.Equal(t, "Pronto, chi parla?", tw.Verbs[0].Text)
	assert.Equal(t, "Polly.Giorgio", tw.Verbs[0].Voice)
	assert.Equal(t, "it-IT, en-US, pl-PL", tw.Verbs[1].Language)
	assert.Equal(t, "speech", tw.Verbs[1].Input)
	assert.Equal(t, "5", tw.Verbs[1].Timeout)
	assert.Equal(t, "/voice/process-speech", tw.Verbs[1].Action)
	assert.Equal(t, "auto", tw.Verbs[1].SpeechTimeout)
	assert.Equal(t, "italiano, english, polski", tw.Verbs[1].Hints)

	s, ok := ts.store.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, "+15551234", s.Caller)
	assert.Equal(t, 1, ts.webhook.count("incoming", "ok"))
	assert.Equal(t, int64(0), ts.calls.ActiveCount())
}

func TestVoiceIncomingRequiresCallSid(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.post(t, "/voice/incoming", url.Values{"From": {"+1555"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, ts.store.Len())
	assert.Equal(t, 1, ts.webhook.count("incoming", "error"))
}

func TestVoiceIncomingRejectsGet(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/voice/incoming", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProcessSpeechRejectsSpam(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.fake.On("classify_spam", llmtest.Reply{Text: "SPAM_SCORE: 9\nREASON: Offerta non richiesta"})

	ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA1"}, "From": {"+1555"}})
	rec := ts.post(t, "/voice/process-speech", url.Values{
		"CallSid":      {"CA1"},
		"From":         {"+1555"},
		"SpeechResult": {"Buongiorno, offerta energia per la sua bolletta"},
		"Confidence":   {"0.91"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	tw := parseTwiML(t, rec)
	assert.Equal(t, []string{"Say", "Hangup"}, tw.names())
	assert.Equal(t, "Mi dispiace, non sono interessato. Arrivederci.", tw.Verbs[0].Text)

	s, ok := ts.store.Get("CA1")
	require.True(t, ok)
	assert.True(t, s.Terminated)
	assert.Equal(t, 9, s.SpamScore)
	require.Len(t, s.Turns, 1)
	require.NotNil(t, s.Turns[0].Confidence)
	assert.InDelta(t, 0.91, *s.Turns[0].Confidence, 1e-9)
	assert.Equal(t, 1, ts.webhook.count("speech", "ok"))
}

func TestProcessSpeechContinuesLegitimateCall(t *testing.T) {
	ts := newTestServer(t, RouterConfig{PublicBaseURL: "https://guard.example.com"})
	ts.fake.
		On("classify_spam", llmtest.Reply{Text: "SPAM_SCORE: 1\nREASON: Known contact"}).
		On("generate_reply", llmtest.Reply{Text: `"Sure, what's it about?"`})

	ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA2"}})
	rec := ts.post(t, "/voice/process-speech", url.Values{
		"CallSid":      {"CA2"},
		"SpeechResult": {"Hello, this is the school calling about your daughter"},
		"Confidence":   {"not-a-number"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	tw := parseTwiML(t, rec)
	require.Equal(t, "Say", tw.Verbs[0].XMLName.Local)
	assert.Equal(t, "Sure, what's it about?", tw.Verbs[0].Text)
	assert.Equal(t, "Polly.Joey", tw.Verbs[0].Voice)

	var gather bool
	for _, v := range tw.Verbs {
		if v.XMLName.Local == "Gather" {
			gather = true
			assert.Equal(t, "en-US", v.Language)
			assert.Equal(t, "https://guard.example.com/voice/process-speech", v.Action)
		}
	}
	assert.True(t, gather, "continuing call must listen again")

	s, _ := ts.store.Get("CA2")
	assert.Equal(t, conversation.StateContinuing, s.State)
	assert.Nil(t, s.Turns[0].Confidence)
}

func TestProcessSpeechWithoutTranscriptHangsUp(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA3"}})
	rec := ts.post(t, "/voice/process-speech", url.Values{"CallSid": {"CA3"}})
	require.Equal(t, http.StatusOK, rec.Code)

	tw := parseTwiML(t, rec)
	assert.Equal(t, []string{"Say", "Hangup"}, tw.names())
	s, _ := ts.store.Get("CA3")
	assert.True(t, s.Terminated)
	assert.Empty(t, ts.fake.Calls())
}

func TestProcessSpeechRequiresCallSid(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	rec := ts.post(t, "/voice/process-speech", url.Values{"SpeechResult": {"hi"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessSpeechRunsWhileDraining(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA4"}})
	ts.calls.StartDraining()

	rec := ts.post(t, "/voice/process-speech", url.Values{"CallSid": {"CA4"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<Reject")
	assert.Equal(t, int64(0), ts.calls.ActiveCount())
}

func TestVoiceStatusEndsCall(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA5"}})

	rec := ts.post(t, "/voice/status", url.Values{"CallSid": {"CA5"}, "CallStatus": {"in-progress"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	s, _ := ts.store.Get("CA5")
	assert.False(t, s.Terminated)

	rec = ts.post(t, "/voice/status", url.Values{"CallSid": {"CA5"}, "CallStatus": {"completed"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	s, _ = ts.store.Get("CA5")
	assert.True(t, s.Terminated)
	assert.Equal(t, "completed", s.EndReason)
}

func TestVoiceStatusUnknownCall(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.post(t, "/voice/status", url.Values{"CallSid": {"CAX"}, "CallStatus": {"completed"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, ts.webhook.count("status", "ok"))
}

type failingScreener struct {
	Screener
}

func (failingScreener) HandleInbound(context.Context, screening.InboundCall) (screening.Result, error) {
	return screening.Result{}, errors.New("store unavailable")
}

func TestVoiceIncomingHangsUpOnError(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	obs := &webhookCounter{}
	h := NewRouter(RouterConfig{}, quiet, Deps{Screener: failingScreener{}, Metrics: obs})

	req := httptest.NewRequest(http.MethodPost, "/voice/incoming", strings.NewReader("CallSid=CA9"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	tw := parseTwiML(t, rec)
	assert.Equal(t, []string{"Hangup"}, tw.names())
	assert.Equal(t, 1, obs.count("incoming", "error"))
}
