package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/llm/llmtest"
	"github.com/lukasbauer/callguard/internal/screening"
)

func (ts *testServer) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestRootEndpoint(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.get(t, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status    string   `json:"status"`
		Message   string   `json:"message"`
		Languages []string `json:"languages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Message)
	assert.Equal(t, []string{"it", "en", "pl"}, body.Languages)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/nope", "").Code)
}

func TestHealthzEndpoint(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	rec := ts.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/conversations", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRouteOnlyWhenConfigured(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/metrics", "").Code)

	quiet := log.New(io.Discard, "", 0)
	h := NewRouter(RouterConfig{}, quiet, Deps{
		Screener: ts.orch,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("callguard_webhooks_total 1"))
		}),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "callguard_webhooks_total")
}

func TestPanicIsRecovered(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	h := NewRouter(RouterConfig{}, quiet, Deps{Screener: panickingScreener{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panickingScreener struct {
	Screener
}

func (panickingScreener) Stats() screening.Stats {
	panic("boom")
}

func TestConversationEndpoints(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.fake.On("classify_spam", llmtest.Reply{Text: "SPAM_SCORE: 8\nREASON: Vendita"})

	ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA1"}, "From": {"+39333"}})
	ts.post(t, "/voice/process-speech", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"Buongiorno, sono di Enel energia"}})
	ts.post(t, "/voice/incoming", url.Values{"CallSid": {"CA2"}, "From": {"+1555"}})

	t.Run("list", func(t *testing.T) {
		rec := ts.get(t, "/conversations", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got map[string]conversation.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, 8, got["CA1"].SpamScore)
		assert.True(t, got["CA1"].Terminated)
		assert.Equal(t, "+1555", got["CA2"].Caller)
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.get(t, "/conversations/CA1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got conversation.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "CA1", got.ID)
		require.Len(t, got.Turns, 1)
		assert.Equal(t, "Buongiorno, sono di Enel energia", got.Turns[0].Content)
	})

	t.Run("get unknown", func(t *testing.T) {
		rec := ts.get(t, "/conversations/CA404", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "conversation not found"))
	})

	t.Run("stats", func(t *testing.T) {
		rec := ts.get(t, "/stats", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got screening.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 2, got.TotalCalls)
		assert.Equal(t, 1, got.SpamBlocked)
		assert.Equal(t, 2, got.ByLanguage["it"])
	})
}
