package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	"github.com/SimoSabev/LynkSkill-sub001/internal/httpapi/handlers"
	"github.com/SimoSabev/LynkSkill-sub001/internal/httpapi/middleware"
	"github.com/SimoSabev/LynkSkill-sub001/internal/store/gormstore"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "router-secret"

type fakeGateway struct {
	mu    sync.Mutex
	resp  *chat.TurnResponse
	err   error
	block chan struct{}
}

func (g *fakeGateway) Process(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error) {
	g.mu.Lock()
	block, resp, err := g.block, g.resp, g.err
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	return resp, err
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	gateway *fakeGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gormstore.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gw := &fakeGateway{resp: &chat.TurnResponse{Reply: "Hi! What do you study?"}}
	pool := chat.NewPool(gormstore.NewRepo(gdb), gw, nil, zap.NewNop(), time.Second)
	h := handlers.NewHandler(pool, zap.NewNop())
	return &testServer{t: t, router: NewRouter(h, testSecret, zap.NewNop()), gateway: gw}
}

func (s *testServer) do(method, path, owner string, ut chat.UserType, body any) (int, envelope) {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		tok, err := middleware.SignToken(testSecret, owner, ut, time.Hour)
		if err != nil {
			s.t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: bad body %q", method, path, w.Body.String())
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

type turnData struct {
	SessionID   string        `json:"session_id"`
	Outcome     string        `json:"outcome"`
	Reply       *chat.Message `json:"reply"`
	FailureKind string        `json:"failure_kind"`
	Phase       chat.Phase    `json:"phase"`
	Persisted   bool          `json:"persisted"`
}

type listData struct {
	ActiveSessionID string `json:"active_session_id"`
	Sessions        []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		MessageCount int    `json:"messageCount"`
		Active       bool   `json:"active"`
	} `json:"sessions"`
}

func TestPingAndAuth(t *testing.T) {
	s := newTestServer(t)

	if code, env := s.do(http.MethodGet, "/ping", "", "", nil); code != http.StatusOK || env.Code != 0 {
		t.Fatalf("ping: %d %+v", code, env)
	}
	if code, _ := s.do(http.MethodGet, "/assistant/sessions", "", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code, env := s.do(http.MethodGet, "/nope", "", "", nil); code != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("expected route not found, got %d %+v", code, env)
	}
}

func TestTurnLifecycle(t *testing.T) {
	s := newTestServer(t)
	phase := chat.PhaseGathering
	s.gateway.resp = &chat.TurnResponse{Reply: "Tell me about your skills", Phase: &phase}

	code, env := s.do(http.MethodPost, "/assistant/turns", "u1", chat.UserStudent,
		gin.H{"message": "I want an internship in data science"})
	if code != http.StatusOK {
		t.Fatalf("turn: %d %+v", code, env)
	}
	turn := decode[turnData](t, env.Data)
	if turn.Outcome != "applied" || turn.Reply == nil || turn.Reply.Content != "Tell me about your skills" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.Phase != chat.PhaseGathering || !turn.Persisted {
		t.Fatalf("unexpected turn state: %+v", turn)
	}

	_, env = s.do(http.MethodGet, "/assistant/sessions", "u1", chat.UserStudent, nil)
	list := decode[listData](t, env.Data)
	if len(list.Sessions) != 1 || list.ActiveSessionID != turn.SessionID {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list.Sessions[0].MessageCount != 2 || !list.Sessions[0].Active {
		t.Fatalf("unexpected summary: %+v", list.Sessions[0])
	}
	if !strings.HasPrefix(list.Sessions[0].Name, "I want an internship") {
		t.Fatalf("expected session named after first message, got %q", list.Sessions[0].Name)
	}

	// company partition of the same owner is separate
	_, env = s.do(http.MethodGet, "/assistant/sessions", "u1", chat.UserCompany, nil)
	if got := decode[listData](t, env.Data); len(got.Sessions) != 0 {
		t.Fatalf("company partition should be empty: %+v", got)
	}
}

func TestTurnGatewayFailureAnswersWithApology(t *testing.T) {
	s := newTestServer(t)
	s.gateway.resp = nil
	s.gateway.err = &chat.GatewayError{Message: "rate limited"}

	code, env := s.do(http.MethodPost, "/assistant/turns", "u1", chat.UserStudent, gin.H{"message": "hello"})
	if code != http.StatusOK {
		t.Fatalf("turn: %d %+v", code, env)
	}
	turn := decode[turnData](t, env.Data)
	if turn.Outcome != "failed" || turn.FailureKind != "gateway_reported_error" || turn.Reply == nil {
		t.Fatalf("unexpected turn: %+v", turn)
	}
}

func TestTurnErrors(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodPost, "/assistant/turns", "u1", chat.UserStudent, gin.H{"message": "   "})
	if code != http.StatusBadRequest || env.Code != 10002 {
		t.Fatalf("empty message: %d %+v", code, env)
	}

	code, env = s.do(http.MethodPost, "/assistant/turns", "u1", chat.UserStudent,
		gin.H{"session_id": "missing", "message": "hi"})
	if code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("unknown session: %d %+v", code, env)
	}

	_, env = s.do(http.MethodPost, "/assistant/sessions", "u1", chat.UserStudent, nil)
	first := decode[struct{ Session chat.Session }](t, env.Data).Session
	s.do(http.MethodPost, "/assistant/sessions", "u1", chat.UserStudent, nil)

	code, env = s.do(http.MethodPost, "/assistant/turns", "u1", chat.UserStudent,
		gin.H{"session_id": first.ID, "message": "hi"})
	if code != http.StatusConflict || env.Code != 40902 {
		t.Fatalf("inactive session: %d %+v", code, env)
	}
}

func TestTurnInFlightConflict(t *testing.T) {
	s := newTestServer(t)
	release := make(chan struct{})
	s.gateway.block = release

	_, env := s.do(http.MethodPost, "/assistant/sessions", "u1", chat.UserStudent, nil)
	sess := decode[struct{ Session chat.Session }](t, env.Data).Session

	done := make(chan int, 1)
	go func() {
		code, _ := s.do(http.MethodPost, "/assistant/turns", "u1", chat.UserStudent,
			gin.H{"session_id": sess.ID, "message": "first"})
		done <- code
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, env := s.do(http.MethodGet, "/assistant/sessions/"+sess.ID, "u1", chat.UserStudent, nil)
		if decode[struct {
			TurnActive bool `json:"turn_active"`
		}](t, env.Data).TurnActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first turn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	code, env := s.do(http.MethodPost, "/assistant/turns", "u1", chat.UserStudent,
		gin.H{"session_id": sess.ID, "message": "second"})
	if code != http.StatusConflict || env.Code != 40901 {
		t.Fatalf("expected in-flight conflict, got %d %+v", code, env)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first turn: %d", code)
	}
}

func TestSessionManagement(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodPost, "/assistant/sessions", "u1", chat.UserStudent, nil)
	if code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	a := decode[struct{ Session chat.Session }](t, env.Data).Session
	_, env = s.do(http.MethodPost, "/assistant/sessions", "u1", chat.UserStudent, nil)
	b := decode[struct{ Session chat.Session }](t, env.Data).Session

	code, _ = s.do(http.MethodPost, "/assistant/sessions/"+a.ID+"/load", "u1", chat.UserStudent, nil)
	if code != http.StatusOK {
		t.Fatalf("load: %d", code)
	}
	_, env = s.do(http.MethodGet, "/assistant/sessions", "u1", chat.UserStudent, nil)
	if got := decode[listData](t, env.Data); got.ActiveSessionID != a.ID {
		t.Fatalf("expected %s active, got %+v", a.ID, got)
	}

	code, env = s.do(http.MethodPatch, "/assistant/sessions/"+a.ID, "u1", chat.UserStudent, gin.H{"name": "  Backend roles  "})
	if code != http.StatusOK {
		t.Fatalf("rename: %d %+v", code, env)
	}
	if got := decode[struct{ Name string }](t, env.Data); got.Name != "Backend roles" {
		t.Fatalf("unexpected name %q", got.Name)
	}

	// other user type and other owners cannot see the session
	if code, _ := s.do(http.MethodGet, "/assistant/sessions/"+a.ID, "u1", chat.UserCompany, nil); code != http.StatusNotFound {
		t.Fatalf("cross partition get: %d", code)
	}
	if code, _ := s.do(http.MethodDelete, "/assistant/sessions/"+a.ID, "u2", chat.UserStudent, nil); code != http.StatusNotFound {
		t.Fatalf("cross owner delete: %d", code)
	}

	code, env = s.do(http.MethodDelete, "/assistant/sessions/"+a.ID, "u1", chat.UserStudent, nil)
	if code != http.StatusOK {
		t.Fatalf("delete: %d", code)
	}
	deleted := decode[struct {
		ActiveSessionID string `json:"active_session_id"`
	}](t, env.Data)
	if deleted.ActiveSessionID != b.ID {
		t.Fatalf("expected active to move to %s, got %s", b.ID, deleted.ActiveSessionID)
	}

	if code, _ := s.do(http.MethodDelete, "/assistant/sessions/"+a.ID, "u1", chat.UserStudent, nil); code != http.StatusNotFound {
		t.Fatalf("second delete: %d", code)
	}
}
