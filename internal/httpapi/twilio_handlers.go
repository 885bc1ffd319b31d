package httpapi

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/screening"
)

// TwiML verbs. Each verb names its own element so a response can hold them
// in any order.
// Twilio expects Content-Type: text/xml.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Language      string   `xml:"language,attr,omitempty"`
	Timeout       int      `xml:"timeout,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Hints         string   `xml:"hints,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"` // "rejected" or "busy"
}

// renderTwiML turns directives into TwiML verbs.
func (r *Router) renderTwiML(directives []screening.Directive) twimlResponse {
	resp := twimlResponse{Verbs: make([]any, 0, len(directives))}
	for _, d := range directives {
		switch d.Kind {
		case screening.KindSpeak:
			v := d.Language.Voice()
			resp.Verbs = append(resp.Verbs, twimlSay{Voice: v.Name, Language: v.Locale.String(), Text: d.Text})
		case screening.KindListen:
			resp.Verbs = append(resp.Verbs, twimlGather{
				Input:         "speech",
				Language:      strings.Join(lang.Locales(d.Languages), ", "),
				Timeout:       int(d.Timeout / time.Second),
				Action:        r.actionURL(d.Action),
				Method:        http.MethodPost,
				SpeechTimeout: "auto",
				Hints:         d.Hints,
			})
		case screening.KindHangup:
			resp.Verbs = append(resp.Verbs, twimlHangup{})
		}
	}
	return resp
}

func (r *Router) actionURL(action string) string {
	if r.cfg.PublicBaseURL == "" || strings.HasPrefix(action, "http://") || strings.HasPrefix(action, "https://") {
		return action
	}
	return strings.TrimRight(r.cfg.PublicBaseURL, "/") + "/" + strings.TrimLeft(action, "/")
}

func writeTwiML(w http.ResponseWriter, resp twimlResponse) {
	out, _ := xml.MarshalIndent(resp, "", "  ")
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func hangupTwiML() twimlResponse {
	return twimlResponse{Verbs: []any{twimlHangup{}}}
}

func (r *Router) handleVoiceIncoming(w http.ResponseWriter, req *http.Request) {
	// New calls are refused once shutdown has begun.
	if !r.calls.Admit() {
		r.logger.Printf("inbound: draining, rejecting call %s", req.FormValue("CallSid"))
		r.metrics.WebhookHandled("incoming", "rejected")
		writeTwiML(w, twimlResponse{Verbs: []any{twimlReject{Reason: "busy"}}})
		return
	}
	defer r.calls.Done()

	// Twilio sends application/x-www-form-urlencoded by default.
	if err := req.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	callSid := req.FormValue("CallSid")
	if callSid == "" {
		r.metrics.WebhookHandled("incoming", "error")
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	res, err := r.screener.HandleInbound(req.Context(), screening.InboundCall{
		SessionID: callSid,
		Caller:    req.FormValue("From"),
		Callee:    req.FormValue("To"),
	})
	if err != nil {
		r.logger.Printf("inbound: call %s failed: %v", callSid, err)
		captureError(req, err, "inbound call")
		r.metrics.WebhookHandled("incoming", "error")
		writeTwiML(w, hangupTwiML())
		return
	}

	r.metrics.WebhookHandled("incoming", "ok")
	writeTwiML(w, r.renderTwiML(res.Directives))
}

func (r *Router) handleProcessSpeech(w http.ResponseWriter, req *http.Request) {
	// Connected calls finish their turns even while draining.
	r.calls.Enter()
	defer r.calls.Done()

	if err := req.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	callSid := req.FormValue("CallSid")
	if callSid == "" {
		r.metrics.WebhookHandled("speech", "error")
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	ev := screening.SpeechResult{
		SessionID:  callSid,
		Caller:     req.FormValue("From"),
		Transcript: req.FormValue("SpeechResult"),
	}
	if raw := req.FormValue("Confidence"); raw != "" {
		if c, err := strconv.ParseFloat(raw, 64); err == nil {
			ev.Confidence = &c
		}
	}

	res, err := r.screener.HandleSpeech(req.Context(), ev)
	if err != nil {
		r.logger.Printf("speech: call %s failed: %v", callSid, err)
		captureError(req, err, "speech turn")
		r.metrics.WebhookHandled("speech", "error")
		writeTwiML(w, hangupTwiML())
		return
	}

	r.metrics.WebhookHandled("speech", "ok")
	writeTwiML(w, r.renderTwiML(res.Directives))
}

func (r *Router) handleVoiceStatus(w http.ResponseWriter, req *http.Request) {
	r.calls.Enter()
	defer r.calls.Done()

	_ = req.ParseForm()
	callSid := req.FormValue("CallSid")
	status := req.FormValue("CallStatus") // queued/ringing/in-progress/completed/...

	if callSid != "" && status != "" {
		_, err := r.screener.HandleStatus(req.Context(), screening.StatusUpdate{SessionID: callSid, Status: status})
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			// Already evicted, or never screened.
		case err != nil:
			r.logger.Printf("status: call %s (%s) failed: %v", callSid, status, err)
			r.metrics.WebhookHandled("status", "error")
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	r.metrics.WebhookHandled("status", "ok")
	w.WriteHeader(http.StatusNoContent)
}
