package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/VoiceQueue/internal/app/queue"
	"github.com/dkeye/VoiceQueue/internal/config"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, joinLimit int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "test", Secret: "test-secret", JoinLimit: joinLimit, JoinWindow: time.Minute}
	return SetupRouter(cfg, queue.NewStore())
}

func do(t *testing.T, r http.Handler, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, 0)
	if w := do(t, r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
}

func TestJoinStatusActionLeave(t *testing.T) {
	r := newTestRouter(t, 0)

	w := do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Ann"})
	if w.Code != http.StatusOK {
		t.Fatalf("join code=%d body=%s", w.Code, w.Body)
	}
	ann := decode[domain.JoinResult](t, w)
	if ann.Position != 1 || ann.SubGroup != domain.DefaultSubGroup {
		t.Fatalf("join=%+v", ann)
	}
	bob := decode[domain.JoinResult](t, do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Bob"}))

	st := decode[domain.QueueStatus](t, do(t, r, http.MethodGet, "/api/queue/status/"+string(bob.SessionID), nil))
	if !st.IsPosition2 || st.Position1Name != "Ann" {
		t.Fatalf("status=%+v", st)
	}

	w = do(t, r, http.MethodPost, "/api/queue/action", map[string]string{"sessionId": string(ann.SessionID), "action": "skip"})
	if w.Code != http.StatusOK {
		t.Fatalf("action code=%d", w.Code)
	}
	st = decode[domain.QueueStatus](t, do(t, r, http.MethodGet, "/api/queue/status/"+string(bob.SessionID), nil))
	if !st.IsPosition1 {
		t.Fatalf("bob should lead, status=%+v", st)
	}

	if w := do(t, r, http.MethodPost, "/api/queue/action", map[string]string{"sessionId": string(ann.SessionID), "action": "dance"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid action code=%d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/api/queue/leave/"+string(ann.SessionID), nil); w.Code != http.StatusOK {
		t.Fatalf("leave code=%d", w.Code)
	}
	w = do(t, r, http.MethodGet, "/api/queue/status/"+string(ann.SessionID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status after leave code=%d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["detail"] == "" {
		t.Fatal("error detail missing")
	}
}

func TestSignalMailbox(t *testing.T) {
	r := newTestRouter(t, 0)
	sig := map[string]any{
		"fromSessionId": "a",
		"toSessionId":   "b",
		"type":          "offer",
		"data":          map[string]string{"type": "offer", "sdp": "v=0"},
	}
	if w := do(t, r, http.MethodPost, "/api/webrtc/signal", sig); w.Code != http.StatusOK {
		t.Fatalf("signal code=%d body=%s", w.Code, w.Body)
	}

	type signals struct {
		Signals []domain.Envelope `json:"signals"`
	}
	got := decode[signals](t, do(t, r, http.MethodGet, "/api/webrtc/signals/b", nil))
	if len(got.Signals) != 1 || got.Signals[0].From != "a" || got.Signals[0].Kind != domain.SignalOffer {
		t.Fatalf("signals=%+v", got)
	}
	got = decode[signals](t, do(t, r, http.MethodGet, "/api/webrtc/signals/b", nil))
	if got.Signals == nil || len(got.Signals) != 0 {
		t.Fatalf("drained mailbox should be an empty list, got=%+v", got)
	}

	sig["type"] = "bogus"
	if w := do(t, r, http.MethodPost, "/api/webrtc/signal", sig); w.Code != http.StatusBadRequest {
		t.Fatalf("bad signal code=%d", w.Code)
	}
}

func TestPeersBySubGroup(t *testing.T) {
	r := newTestRouter(t, 0)
	do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Ann", "subGroup": "Team"})
	do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Bob", "subGroup": "Team"})
	do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Cid"})

	type peers struct {
		Peers []domain.Peer `json:"peers"`
	}
	got := decode[peers](t, do(t, r, http.MethodGet, "/api/webrtc/peers?subGroup=Team", nil))
	if len(got.Peers) != 2 || got.Peers[0].Name != "Ann" || got.Peers[1].Name != "Bob" {
		t.Fatalf("peers=%+v", got)
	}
}

func TestSubGroupEndpoints(t *testing.T) {
	r := newTestRouter(t, 0)
	if w := do(t, r, http.MethodPost, "/api/subgroups/create", map[string]string{"name": "Team"}); w.Code != http.StatusOK {
		t.Fatalf("create code=%d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/subgroups/create", map[string]string{"name": "Team"}); w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate code=%d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/api/subgroups/delete/General", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("delete default code=%d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/api/subgroups/delete/Nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("delete missing code=%d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/api/subgroups/delete/Team", nil); w.Code != http.StatusOK {
		t.Fatalf("delete code=%d", w.Code)
	}
	type list struct {
		SubGroups []domain.SubGroup `json:"subgroups"`
	}
	got := decode[list](t, do(t, r, http.MethodGet, "/api/subgroups/list", nil))
	if len(got.SubGroups) != 1 {
		t.Fatalf("subgroups=%+v", got)
	}
}

func TestJoinRateLimitedPerClient(t *testing.T) {
	r := newTestRouter(t, 2)
	first := do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Ann"})
	var ct *http.Cookie
	for _, c := range first.Result().Cookies() {
		if c.Name == "ct" {
			ct = c
		}
	}
	if ct == nil {
		t.Fatal("client token cookie not set")
	}
	if w := do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Ann"}, ct); w.Code != http.StatusOK {
		t.Fatalf("second join code=%d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Ann"}, ct); w.Code != http.StatusTooManyRequests {
		t.Fatalf("third join code=%d", w.Code)
	}
	// A different client is unaffected.
	if w := do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Bob"}); w.Code != http.StatusOK {
		t.Fatalf("other client code=%d", w.Code)
	}
}

func TestWhoAmIRemembersJoin(t *testing.T) {
	r := newTestRouter(t, 0)
	w := do(t, r, http.MethodPost, "/api/queue/join", map[string]string{"name": "Ann"})
	res := decode[domain.JoinResult](t, w)

	var jar []*http.Cookie
	jar = append(jar, w.Result().Cookies()...)
	got := decode[map[string]string](t, do(t, r, http.MethodGet, "/api/queue/whoami", nil, jar...))
	if got["sessionId"] != string(res.SessionID) {
		t.Fatalf("whoami=%v, want %s", got, res.SessionID)
	}
	if w := do(t, r, http.MethodGet, "/api/queue/whoami", nil); w.Code != http.StatusNotFound {
		t.Fatalf("fresh client code=%d", w.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	if !rl.Allow("k") || rl.Allow("k") {
		t.Fatal("limit of one not enforced")
	}
	now = now.Add(2 * time.Minute)
	if !rl.Allow("k") {
		t.Fatal("window should have expired")
	}
}
