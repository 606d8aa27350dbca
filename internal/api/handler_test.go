package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/engine"
	"github.com/taleweaver/taleweaver/internal/identity"
	"github.com/taleweaver/taleweaver/internal/prompt"
	"github.com/taleweaver/taleweaver/internal/provider"
)

// fakeRepo is an in-memory store.Repository for handler tests. It mirrors
// the SQLite constraints the handlers depend on: one active session per
// user, dedup-key uniqueness and one assistant reply per human turn.
type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	scenarios map[string]*domain.Scenario
	sessions  map[string]*domain.Session
	messages  []*domain.Message
	nextSeq   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     make(map[string]*domain.User),
		scenarios: make(map[string]*domain.Scenario),
		sessions:  make(map[string]*domain.Session),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.UserID] = user
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	return nil
}

func (f *fakeRepo) UpsertScenario(_ context.Context, sc *domain.Scenario) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenarios[sc.ID] = sc
	return nil
}

func (f *fakeRepo) GetScenario(_ context.Context, id string) (*domain.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scenarios[id], nil
}

func (f *fakeRepo) ListScenarios(_ context.Context) ([]*domain.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Scenario, 0, len(f.scenarios))
	for _, sc := range f.scenarios {
		out = append(out, sc)
	}
	return out, nil
}

func (f *fakeRepo) CreateSession(_ context.Context, sess *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.UserID == sess.UserID && !existing.Completed {
			return domain.ErrActiveSessionExists
		}
	}
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeRepo) GetActiveSession(_ context.Context, userID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sess := range f.sessions {
		if sess.UserID == userID && !sess.Completed {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListSessions(_ context.Context, userID string) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Session
	for _, sess := range f.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeRepo) CompleteSession(_ context.Context, id string, completedAt time.Time) (*domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, false, domain.ErrSessionNotFound
	}
	if sess.Completed {
		cp := *sess
		return &cp, false, nil
	}
	sess.Completed = true
	sess.CompletedAt = &completedAt
	duration := int64(completedAt.Sub(sess.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	sess.DurationSeconds = &duration
	cp := *sess
	return &cp, true, nil
}

func (f *fakeRepo) GetStaleSessions(_ context.Context, cutoff time.Time) ([]*domain.Session, error) {
	return nil, nil
}

func (f *fakeRepo) UserStats(_ context.Context, userID string) (*domain.UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.UserStats{}
	for _, sess := range f.sessions {
		if sess.UserID == userID && sess.Completed {
			stats.CompletedSessions++
			stats.TotalExchanges += sess.MainMessages + sess.HelperMessages
			if sess.DurationSeconds != nil {
				stats.TotalPracticeSeconds += *sess.DurationSeconds
			}
		}
	}
	return stats, nil
}

func (f *fakeRepo) CreateUserMessage(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[msg.SessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if sess.Completed {
		return domain.ErrSessionCompleted
	}
	if msg.DedupKey != "" {
		for _, m := range f.messages {
			if m.SessionID == msg.SessionID && m.Channel == msg.Channel && m.DedupKey == msg.DedupKey {
				return domain.ErrDuplicateMessage
			}
		}
	}
	f.nextSeq++
	msg.Seq = f.nextSeq
	cp := *msg
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeRepo) CreateAssistantMessage(_ context.Context, msg *domain.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.SessionID == msg.SessionID && m.ReplyTo == msg.ReplyTo && m.ReplyTo != 0 {
			return 0, domain.ErrDuplicateReply
		}
	}
	sess := f.sessions[msg.SessionID]
	f.nextSeq++
	msg.Seq = f.nextSeq
	cp := *msg
	f.messages = append(f.messages, &cp)
	if msg.Channel == domain.ChannelHelper {
		sess.HelperMessages++
		return sess.HelperMessages, nil
	}
	sess.MainMessages++
	return sess.MainMessages, nil
}

func (f *fakeRepo) GetMessageByDedupKey(_ context.Context, sessionID string, ch domain.Channel, key string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.Channel == ch && m.DedupKey == key {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetReply(_ context.Context, sessionID string, replyTo int64) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.ReplyTo == replyTo && m.Role != domain.RoleUser {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) RecentHistory(_ context.Context, sessionID string, ch domain.Channel, limit int) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.Channel == ch {
			cp := *m
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeRepo) ListMessages(_ context.Context, sessionID string) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type fakeGenerator struct {
	fn func(req provider.Request) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, req provider.Request) (string, error) {
	return g.fn(req)
}

type testAPI struct {
	repo   *fakeRepo
	router chi.Router
}

func newTestAPI(t *testing.T, gen provider.Generator) *testAPI {
	t.Helper()
	repo := newFakeRepo()
	repo.users["u1"] = &domain.User{UserID: "u1", Username: "Happy Otter"}
	repo.scenarios["baeckerei"] = &domain.Scenario{ID: "baeckerei", Title: "In der Bäckerei", Level: "A1"}

	prompts, err := prompt.Load()
	if err != nil {
		t.Fatalf("prompt.Load failed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(repo, gen, prompts, engine.Config{}, nil, logger)

	router := chi.NewRouter()
	NewHandler(repo, eng).RegisterRoutes(router)
	return &testAPI{repo: repo, router: router}
}

func (a *testAPI) seedSession(id, userID string) *domain.Session {
	now := time.Now()
	sess := &domain.Session{ID: id, UserID: userID, ScenarioID: "baeckerei", StartedAt: now, LastActivityAt: now}
	a.repo.sessions[id] = sess
	return sess
}

// do issues a request as the given user; an empty userID means anonymous.
func (a *testAPI) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = req.WithContext(identity.WithUser(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func okGenerator(text string) provider.Generator {
	return &fakeGenerator{fn: func(provider.Request) (string, error) { return text, nil }}
}

func TestSubmitMessage(t *testing.T) {
	api := newTestAPI(t, okGenerator("Guten Tag!"))
	api.seedSession("s1", "u1")

	rec := api.do(http.MethodPost, "/api/sessions/s1/messages", "u1", map[string]string{
		"channel":   "main",
		"text":      "Hallo",
		"dedup_key": "k1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp submitMessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AssistantMessage == nil || resp.AssistantMessage.Content != "Guten Tag!" {
		t.Errorf("assistant = %+v", resp.AssistantMessage)
	}
	if resp.SessionCompleted {
		t.Errorf("unexpected flags: %+v", resp)
	}
}

func TestSubmitMessageStatuses(t *testing.T) {
	validBody := map[string]string{"channel": "main", "text": "Hallo", "dedup_key": "k1"}

	cases := []struct {
		name  string
		gen   provider.Generator
		setup func(a *testAPI)
		path  string
		user  string
		body  any
		want  int
	}{
		{
			name: "unknown session",
			gen:  okGenerator("ok"),
			path: "/api/sessions/missing/messages",
			user: "u1", body: validBody,
			want: http.StatusNotFound,
		},
		{
			name: "foreign session reads as not found",
			gen:  okGenerator("ok"),
			setup: func(a *testAPI) {
				a.seedSession("theirs", "u2")
			},
			path: "/api/sessions/theirs/messages",
			user: "u1", body: validBody,
			want: http.StatusNotFound,
		},
		{
			name: "anonymous",
			gen:  okGenerator("ok"),
			setup: func(a *testAPI) {
				a.seedSession("s1", "u1")
			},
			path: "/api/sessions/s1/messages",
			user: "", body: validBody,
			want: http.StatusUnauthorized,
		},
		{
			name: "completed session conflicts",
			gen:  okGenerator("ok"),
			setup: func(a *testAPI) {
				sess := a.seedSession("s1", "u1")
				sess.Completed = true
				now := time.Now()
				sess.CompletedAt = &now
			},
			path: "/api/sessions/s1/messages",
			user: "u1", body: validBody,
			want: http.StatusConflict,
		},
		{
			name: "invalid channel",
			gen:  okGenerator("ok"),
			setup: func(a *testAPI) {
				a.seedSession("s1", "u1")
			},
			path: "/api/sessions/s1/messages",
			user: "u1", body: map[string]string{"channel": "side", "text": "Hallo"},
			want: http.StatusBadRequest,
		},
		{
			name: "empty text",
			gen:  okGenerator("ok"),
			setup: func(a *testAPI) {
				a.seedSession("s1", "u1")
			},
			path: "/api/sessions/s1/messages",
			user: "u1", body: map[string]string{"channel": "main", "text": ""},
			want: http.StatusBadRequest,
		},
		{
			name: "oversized text",
			gen:  okGenerator("ok"),
			setup: func(a *testAPI) {
				a.seedSession("s1", "u1")
			},
			path: "/api/sessions/s1/messages",
			user: "u1", body: map[string]string{"channel": "main", "text": strings.Repeat("a", domain.MaxMessageLength+1)},
			want: http.StatusBadRequest,
		},
		{
			name: "provider timeout maps to gateway timeout",
			gen: &fakeGenerator{fn: func(provider.Request) (string, error) {
				return "", &provider.Failure{Kind: provider.FailureTimeout, Attempts: 2, Err: context.DeadlineExceeded}
			}},
			setup: func(a *testAPI) {
				a.seedSession("s1", "u1")
			},
			path: "/api/sessions/s1/messages",
			user: "u1", body: validBody,
			want: http.StatusGatewayTimeout,
		},
		{
			name: "provider exhaustion maps to bad gateway",
			gen: &fakeGenerator{fn: func(provider.Request) (string, error) {
				return "", &provider.Failure{Kind: provider.FailureExhausted, Attempts: 3, Err: context.DeadlineExceeded}
			}},
			setup: func(a *testAPI) {
				a.seedSession("s1", "u1")
			},
			path: "/api/sessions/s1/messages",
			user: "u1", body: validBody,
			want: http.StatusBadGateway,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newTestAPI(t, tc.gen)
			if tc.setup != nil {
				tc.setup(api)
			}
			rec := api.do(http.MethodPost, tc.path, tc.user, tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestSubmitMessageReplay(t *testing.T) {
	api := newTestAPI(t, okGenerator("Guten Tag!"))
	api.seedSession("s1", "u1")
	body := map[string]string{"channel": "main", "text": "Hallo", "dedup_key": "k1"}

	first := api.do(http.MethodPost, "/api/sessions/s1/messages", "u1", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first submit = %d", first.Code)
	}
	second := api.do(http.MethodPost, "/api/sessions/s1/messages", "u1", body)
	if second.Code != http.StatusOK {
		t.Fatalf("retry = %d", second.Code)
	}

	// A retry is indistinguishable from the original response.
	if first.Body.String() != second.Body.String() {
		t.Errorf("retry body diverged:\nfirst:  %s\nsecond: %s", first.Body.String(), second.Body.String())
	}
	if n := len(api.repo.messages); n != 2 {
		t.Errorf("stored messages = %d, want 2", n)
	}
}

func TestStartSessionEndpoint(t *testing.T) {
	api := newTestAPI(t, okGenerator("ok"))

	rec := api.do(http.MethodPost, "/api/sessions", "u1", map[string]string{"scenario_id": "baeckerei"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sess domain.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.ID == "" || sess.ScenarioID != "baeckerei" {
		t.Errorf("session = %+v", sess)
	}

	rec = api.do(http.MethodPost, "/api/sessions", "u1", map[string]string{"scenario_id": "baeckerei"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate start = %d, want 409", rec.Code)
	}

	rec = api.do(http.MethodPost, "/api/sessions", "u1", map[string]string{"scenario_id": "unknown"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown scenario = %d, want 404", rec.Code)
	}

	rec = api.do(http.MethodPost, "/api/sessions", "u1", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing scenario_id = %d, want 400", rec.Code)
	}
}

func TestGetActiveSessionEndpoint(t *testing.T) {
	api := newTestAPI(t, okGenerator("ok"))

	rec := api.do(http.MethodGet, "/api/sessions/active", "u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("no active session = %d, want 404", rec.Code)
	}

	api.seedSession("s1", "u1")
	rec = api.do(http.MethodGet, "/api/sessions/active", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("active session = %d", rec.Code)
	}
	var sess domain.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.ID != "s1" {
		t.Errorf("session id = %q", sess.ID)
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	api := newTestAPI(t, okGenerator("ok"))
	api.seedSession("s1", "u1")

	rec := api.do(http.MethodDelete, "/api/sessions/s1", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = api.do(http.MethodGet, "/api/sessions/s1", "u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleted session read = %d, want 404", rec.Code)
	}
}

func TestScenarioEndpoints(t *testing.T) {
	api := newTestAPI(t, okGenerator("ok"))

	rec := api.do(http.MethodGet, "/api/scenarios", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list scenarios = %d", rec.Code)
	}
	var scenarios []*domain.Scenario
	if err := json.NewDecoder(rec.Body).Decode(&scenarios); err != nil {
		t.Fatalf("decode scenarios: %v", err)
	}
	if len(scenarios) != 1 {
		t.Errorf("scenario count = %d, want 1", len(scenarios))
	}

	rec = api.do(http.MethodGet, "/api/scenarios/baeckerei", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get scenario = %d", rec.Code)
	}
	rec = api.do(http.MethodGet, "/api/scenarios/unknown", "u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown scenario = %d, want 404", rec.Code)
	}
}

func TestProfileEndpoint(t *testing.T) {
	api := newTestAPI(t, okGenerator("ok"))

	rec := api.do(http.MethodGet, "/api/profile", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous profile = %d, want 401", rec.Code)
	}

	rec = api.do(http.MethodGet, "/api/profile", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile = %d", rec.Code)
	}
	var resp struct {
		UserID   string            `json:"user_id"`
		Username string            `json:"username"`
		Stats    *domain.UserStats `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if resp.UserID != "u1" || resp.Stats == nil {
		t.Errorf("profile = %+v", resp)
	}
}
