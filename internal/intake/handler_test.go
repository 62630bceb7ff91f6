package intake

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	apphttp "lead_waterfall_backend/internal/http"
	"lead_waterfall_backend/internal/leads/fallback"
	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/platform/httpkit"
	"lead_waterfall_backend/platform/logger"
	"lead_waterfall_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const testBaseURL = "https://voice.example.com"

type fakeSynth struct {
	text string
	err  error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.text = text
	if f.err != nil {
		return nil, f.err
	}
	return []byte("ID3-audio"), nil
}

func newTestRouter(t *testing.T, svc *Service, opts HandlerOptions) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts.PublicBaseURL = testBaseURL
	handler := NewHandler(svc, validator.New(), opts, logger.Discard())

	engine := gin.New()
	rc := &apphttp.RouterContext{
		Engine:          engine,
		V1:              engine.Group("/api/v1"),
		Voice:           engine.Group("/voice"),
		FormRateLimiter: httpkit.NewFormRateLimiter(logger.Discard()),
	}
	NewModule(handler).RegisterRoutes(rc)
	return engine
}

func postForm(engine *gin.Engine, path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

type sayVerb struct {
	Language string `xml:"language,attr"`
	Text     string `xml:",chardata"`
}

type voiceResponse struct {
	Gather *struct {
		Input         string   `xml:"input,attr"`
		Action        string   `xml:"action,attr"`
		Method        string   `xml:"method,attr"`
		SpeechTimeout string   `xml:"speechTimeout,attr"`
		Language      string   `xml:"language,attr"`
		Say           *sayVerb `xml:"Say"`
		Play          string   `xml:"Play"`
	} `xml:"Gather"`
	Say      *sayVerb `xml:"Say"`
	Play     string   `xml:"Play"`
	Redirect *struct {
		Method string `xml:"method,attr"`
		URL    string `xml:",chardata"`
	} `xml:"Redirect"`
	Hangup *struct{} `xml:"Hangup"`
}

func parseTwiML(t *testing.T, rec *httptest.ResponseRecorder) voiceResponse {
	t.Helper()
	var resp voiceResponse
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid TwiML %q: %v", rec.Body.String(), err)
	}
	return resp
}

// signTwilio computes X-Twilio-Signature: base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func signTwilio(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVoiceIncomingReturnsGather(t *testing.T) {
	svc, _ := newTestService(repository.NewMemoryLedger(), nil)
	engine := newTestRouter(t, svc, HandlerOptions{})

	rec := postForm(engine, "/voice/incoming", url.Values{"CallSid": {"CA1"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := parseTwiML(t, rec)
	g := resp.Gather
	if g == nil {
		t.Fatalf("expected <Gather>, got %s", rec.Body.String())
	}
	if g.Input != "speech" || g.Action != testBaseURL+"/voice/handle" || g.Method != "POST" ||
		g.SpeechTimeout != "auto" || g.Language != "it-IT" {
		t.Fatalf("unexpected Gather attributes %+v", g)
	}
	if g.Say == nil || g.Say.Language != "it-IT" || !strings.HasPrefix(g.Say.Text, "Buongiorno.") {
		t.Fatalf("expected greeting spoken inside Gather, got %+v", g.Say)
	}
	if resp.Redirect == nil || resp.Redirect.Method != "POST" || resp.Redirect.URL != testBaseURL+"/voice/handle" {
		t.Fatalf("expected silent-turn redirect, got %+v", resp.Redirect)
	}
	if resp.Hangup != nil {
		t.Fatal("greeting must not hang up")
	}
}

func TestVoiceCallOverHTTP(t *testing.T) {
	ledger := repository.NewMemoryLedger()
	svc, _ := newTestService(ledger, nil)
	engine := newTestRouter(t, svc, HandlerOptions{})

	postForm(engine, "/voice/incoming", url.Values{"CallSid": {"CA2"}}, nil)
	var rec *httptest.ResponseRecorder
	for _, speech := range []string{"cremation", "Lodi", "immediate", "3331234567", "yes"} {
		rec = postForm(engine, "/voice/handle", url.Values{"CallSid": {"CA2"}, "SpeechResult": {speech}}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("turn %q: status %d", speech, rec.Code)
		}
	}
	if final := parseTwiML(t, rec); final.Hangup == nil || final.Gather != nil {
		t.Fatalf("expected final hangup, got %s", rec.Body.String())
	}
	leads, _ := ledger.Scan(context.Background(), repository.Filter{})
	if len(leads) != 1 || leads[0].Phone != "+393331234567" {
		t.Fatalf("expected one captured lead, got %+v", leads)
	}
}

func TestVoiceHandleRequiresCallSid(t *testing.T) {
	svc, _ := newTestService(repository.NewMemoryLedger(), nil)
	engine := newTestRouter(t, svc, HandlerOptions{})

	rec := postForm(engine, "/voice/handle", url.Values{"SpeechResult": {"ciao"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (*Session, bool, error) {
	return nil, false, errors.New("redis down")
}
func (brokenStore) Save(context.Context, *Session) error { return errors.New("redis down") }
func (brokenStore) Delete(context.Context, string) error { return errors.New("redis down") }

func TestVoiceStoreFailureApologisesAndHangsUp(t *testing.T) {
	svc := NewService(testConfig{}, brokenStore{}, repository.NewMemoryLedger(), nil, logger.Discard())
	engine := newTestRouter(t, svc, HandlerOptions{})

	rec := postForm(engine, "/voice/handle", url.Values{"CallSid": {"CA3"}, "SpeechResult": {"funerale"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("caller must get TwiML, got %d", rec.Code)
	}
	body := rec.Body.String()
	resp := parseTwiML(t, rec)
	if resp.Say == nil || !strings.Contains(resp.Say.Text, "Ci scusiamo") || resp.Hangup == nil {
		t.Fatalf("expected apology and hangup, got %s", body)
	}
	if strings.Contains(body, "redis") {
		t.Fatal("internal error leaked to caller")
	}
}

func TestVoiceStatusReleasesSession(t *testing.T) {
	svc, store := newTestService(repository.NewMemoryLedger(), nil)
	engine := newTestRouter(t, svc, HandlerOptions{})

	postForm(engine, "/voice/incoming", url.Values{"CallSid": {"CA4"}}, nil)
	rec := postForm(engine, "/voice/status", url.Values{"CallSid": {"CA4"}, "CallStatus": {"in-progress"}}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if store.Len() != 1 {
		t.Fatal("in-progress status must keep the session")
	}

	postForm(engine, "/voice/status", url.Values{"CallSid": {"CA4"}, "CallStatus": {"completed"}}, nil)
	if _, ok, _ := store.Load(context.Background(), "CA4"); ok {
		t.Fatal("expected session released after completed status")
	}
}

func TestVoiceTwilioSignature(t *testing.T) {
	svc, _ := newTestService(repository.NewMemoryLedger(), nil)
	engine := newTestRouter(t, svc, HandlerOptions{TwilioAuthToken: "twilio-token"})
	form := url.Values{"CallSid": {"CA5"}, "From": {"+393331234567"}}

	rec := postForm(engine, "/voice/incoming", form, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", rec.Code)
	}

	rec = postForm(engine, "/voice/incoming", form, map[string]string{twilioSignatureHeader: signTwilio("wrong-token", testBaseURL+"/voice/incoming", form)})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with a foreign signature, got %d", rec.Code)
	}

	sig := signTwilio("twilio-token", testBaseURL+"/voice/incoming", form)
	rec = postForm(engine, "/voice/incoming", form, map[string]string{twilioSignatureHeader: sig})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d", rec.Code)
	}
}

func TestVoiceUsesSignedPlayWhenTTSEnabled(t *testing.T) {
	svc, _ := newTestService(repository.NewMemoryLedger(), nil)
	signer := NewTTSSigner("tts-secret", testBaseURL)
	synth := &fakeSynth{}
	engine := newTestRouter(t, svc, HandlerOptions{Signer: signer, TTS: synth})

	rec := postForm(engine, "/voice/incoming", url.Values{"CallSid": {"CA6"}}, nil)
	resp := parseTwiML(t, rec)
	if resp.Gather == nil || resp.Gather.Play == "" {
		t.Fatalf("expected <Play> in TwiML, got %s", rec.Body.String())
	}
	audioURL := resp.Gather.Play
	if !strings.HasPrefix(audioURL, testBaseURL+"/voice/tts?token=") {
		t.Fatalf("unexpected audio URL %q", audioURL)
	}

	req := httptest.NewRequest(http.MethodGet, strings.TrimPrefix(audioURL, testBaseURL), nil)
	audio := httptest.NewRecorder()
	engine.ServeHTTP(audio, req)
	if audio.Code != http.StatusOK || audio.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("expected audio, got %d %s", audio.Code, audio.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(synth.text, "Buongiorno.") {
		t.Fatalf("expected greeting to be synthesized, got %q", synth.text)
	}
}

func TestTTSRejectsForgedToken(t *testing.T) {
	svc, _ := newTestService(repository.NewMemoryLedger(), nil)
	forger := NewTTSSigner("other-secret", testBaseURL)
	engine := newTestRouter(t, svc, HandlerOptions{Signer: NewTTSSigner("tts-secret", testBaseURL), TTS: &fakeSynth{}})

	forged, _ := forger.URL("say anything")
	req := httptest.NewRequest(http.MethodGet, strings.TrimPrefix(forged, testBaseURL), nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for forged token, got %d", rec.Code)
	}
}

func TestTTSDisabled(t *testing.T) {
	svc, _ := newTestService(repository.NewMemoryLedger(), nil)
	engine := newTestRouter(t, svc, HandlerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/voice/tts?token=x", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when TTS is off, got %d", rec.Code)
	}
}

func postJSON(engine *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestFormEndpoint(t *testing.T) {
	ledger := repository.NewMemoryLedger()
	svc, _ := newTestService(ledger, nil)
	engine := newTestRouter(t, svc, HandlerOptions{})

	rec := postJSON(engine, "/api/v1/leads/form", map[string]any{
		"service": "Cremazione",
		"zone":    "Brera",
		"urgency": "entro 24 ore",
		"phone":   "+39 333 123 4567",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp FormResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.LeadID == "" || resp.Queued {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFormEndpointErrors(t *testing.T) {
	svc, _ := newTestService(repository.NewMemoryLedger(), nil)
	engine := newTestRouter(t, svc, HandlerOptions{})

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"missing phone", map[string]any{"service": "funerale", "zone": "Brera"}},
		{"unknown service", map[string]any{"service": "matrimonio", "zone": "Brera", "phone": "3331234567"}},
		{"bad phone", map[string]any{"service": "funerale", "zone": "Brera", "phone": "123"}},
	}
	for _, tc := range cases {
		rec := postJSON(engine, "/api/v1/leads/form", tc.payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}

func TestFormEndpointQueuedReturnsAccepted(t *testing.T) {
	q, err := fallback.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()
	svc, _ := newTestService(failingLedger{}, q)
	engine := newTestRouter(t, svc, HandlerOptions{})

	rec := postJSON(engine, "/api/v1/leads/form", map[string]any{
		"service": "funerale", "zone": "Brera", "phone": "3331234567",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	entries, _ := q.List(context.Background(), 0)
	if len(entries) != 1 {
		t.Fatalf("expected one queued entry, got %d", len(entries))
	}
}

func TestTTSSignerExpiry(t *testing.T) {
	signer := NewTTSSigner("secret", testBaseURL)
	now := t0
	signer.now = func() time.Time { return now }

	raw, err := signer.URL("Buongiorno")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	token := u.Query().Get("token")

	text, err := signer.Parse(token)
	if err != nil || text != "Buongiorno" {
		t.Fatalf("expected round trip, got %q %v", text, err)
	}

	now = t0.Add(11 * time.Minute)
	if _, err := signer.Parse(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestElevenLabsClient(t *testing.T) {
	var got elevenLabsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1" || r.Header.Get("xi-api-key") != "key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3"))
	}))
	defer server.Close()

	client := &ElevenLabsClient{apiKey: "key-1", voiceID: "voice-1", endpoint: server.URL, client: server.Client()}
	audio, err := client.Synthesize(context.Background(), "Ciao")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "mp3" || got.Text != "Ciao" || got.ModelID != elevenLabsModel {
		t.Fatalf("unexpected exchange audio=%q req=%+v", audio, got)
	}

	client.apiKey = "wrong"
	if _, err := client.Synthesize(context.Background(), "Ciao"); err == nil {
		t.Fatal("expected provider error to surface")
	}
}
