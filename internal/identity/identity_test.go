package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/store"
)

// userRepo stubs the Repository methods the middleware touches.
type userRepo struct {
	store.Repository
	users    map[string]*domain.User
	lastSeen map[string]time.Time
}

func (f *userRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	return f.users[userID], nil
}

func (f *userRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.users[user.UserID] = user
	return nil
}

func (f *userRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	if f.lastSeen == nil {
		f.lastSeen = make(map[string]time.Time)
	}
	f.lastSeen[userID] = lastSeen
	return nil
}

func runIdentity(t *testing.T, repo *userRepo, cookie *http.Cookie) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seenUserID string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seenUserID
}

func TestMiddlewareCreatesIdentity(t *testing.T) {
	repo := &userRepo{users: make(map[string]*domain.User)}

	rec, userID := runIdentity(t, repo, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !isValidAnonID(userID) {
		t.Fatalf("context user id %q is not a valid anonymous id", userID)
	}
	if repo.users[userID] == nil {
		t.Error("user record not created on first sight")
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("anonymous cookie not set")
	}
	if cookie.Value != userID {
		t.Errorf("cookie carries %q, context carries %q", cookie.Value, userID)
	}
	if !cookie.HttpOnly {
		t.Error("anonymous cookie must be http-only")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	repo := &userRepo{users: make(map[string]*domain.User)}

	rec, firstID := runIdentity(t, repo, nil)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("anonymous cookie not set")
	}

	_, secondID := runIdentity(t, repo, cookie)
	if secondID != firstID {
		t.Errorf("identity changed across requests: %q then %q", firstID, secondID)
	}
	if len(repo.users) != 1 {
		t.Errorf("user records = %d, want 1", len(repo.users))
	}
	if _, ok := repo.lastSeen[firstID]; !ok {
		t.Error("returning device did not refresh last-seen")
	}
}

func TestMiddlewareRejectsForgedCookie(t *testing.T) {
	repo := &userRepo{users: make(map[string]*domain.User)}

	_, userID := runIdentity(t, repo, &http.Cookie{Name: AnonCookieName, Value: "anon_notahexstring"})
	if userID == "anon_notahexstring" {
		t.Error("forged cookie value accepted")
	}
	if !isValidAnonID(userID) {
		t.Errorf("replacement id %q is not valid", userID)
	}
}

func TestWithUser(t *testing.T) {
	ctx := WithUser(context.Background(), "anon_0123456789abcdef0123456789abcdef")
	if got := UserIDFromContext(ctx); got != "anon_0123456789abcdef0123456789abcdef" {
		t.Errorf("user id = %q", got)
	}
	if got := UsernameFromContext(ctx); got == "" {
		t.Error("username missing from context")
	}

	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context yielded %q", got)
	}
}
