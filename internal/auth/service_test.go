package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/repository"
)

// memStore はusers/identities/sessionsのインメモリ実装。
// createErrを設定するとCreateWithIdentityが失敗する。
type memStore struct {
	users      map[string]*model.User
	identities map[string]*model.Identity // key: provider/provider_user_id
	sessions   map[string]*model.Session

	createErr      error
	afterCreateErr func() // CreateWithIdentity失敗時に呼ぶ（並行作成の再現用）
	sessionErr     error
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]*model.User),
		identities: make(map[string]*model.Identity),
		sessions:   make(map[string]*model.Session),
	}
}

func (m *memStore) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *memStore) CreateWithIdentity(_ context.Context, user *model.User, identity *model.Identity) error {
	if m.createErr != nil {
		if m.afterCreateErr != nil {
			m.afterCreateErr()
		}
		return m.createErr
	}
	m.users[user.ID] = user
	m.identities[identity.Provider+"/"+identity.ProviderUserID] = identity
	return nil
}

func (m *memStore) DeleteByID(_ context.Context, id string) error {
	delete(m.users, id)
	return nil
}

func (m *memStore) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.Identity, error) {
	return m.identities[provider+"/"+providerUserID], nil
}

// sessionStore はmemStoreのセッション部分。FindByID/DeleteByIDの名前がユーザー側と重なるため分ける。
type sessionStore struct{ *memStore }

func (s sessionStore) Create(_ context.Context, session *model.Session) error {
	if s.sessionErr != nil {
		return s.sessionErr
	}
	s.sessions[session.ID] = session
	return nil
}

func (s sessionStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	session, ok := s.sessions[id]
	if !ok || session.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return session, nil
}

func (s sessionStore) DeleteByID(_ context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not configured")
}

var (
	_ repository.UserRepository     = (*memStore)(nil)
	_ repository.IdentityRepository = (*memStore)(nil)
	_ repository.SessionRepository  = sessionStore{}
	_ OAuthProvider                 = (*mockOAuthProvider)(nil)
)

func googleUser(id, email, name string) *mockOAuthProvider {
	return &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: id, Email: email, Name: name, Provider: ProviderGoogle}, nil
		},
	}
}

func newTestService(provider OAuthProvider, store *memStore) *Service {
	return NewService(provider, store, store, sessionStore{store}, ServiceConfig{SessionTTL: 24 * time.Hour})
}

func TestGetLoginURL_DelegatesToProvider(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := newTestService(provider, newMemStore())

	if got := svc.GetLoginURL("st-1"); got != "https://accounts.google.com/o/oauth2/auth?state=st-1" {
		t.Errorf("GetLoginURL() = %q", got)
	}
}

// TestHandleCallback_FirstSignIn は初回サインインでユーザー・identity・セッションが作られ、
// メールと表示名が正規化されることを検証する。
func TestHandleCallback_FirstSignIn(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		userName  string
		wantEmail string
		wantName  string
	}{
		{name: "as given", email: "owner@example.com", userName: "Shop Owner", wantEmail: "owner@example.com", wantName: "Shop Owner"},
		{name: "normalized email", email: "  Owner@Example.COM ", userName: "Owner", wantEmail: "owner@example.com", wantName: "Owner"},
		{name: "name falls back to local part", email: "Social.Team@example.com", userName: "  ", wantEmail: "social.team@example.com", wantName: "social.team"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(googleUser("g-1", tt.email, tt.userName), store)

			session, err := svc.HandleCallback(context.Background(), "code")
			if err != nil {
				t.Fatalf("HandleCallback() error = %v", err)
			}

			user := store.users[session.UserID]
			if user == nil {
				t.Fatalf("user %q was not created", session.UserID)
			}
			if user.Email != tt.wantEmail {
				t.Errorf("email = %q, want %q", user.Email, tt.wantEmail)
			}
			if user.Name != tt.wantName {
				t.Errorf("name = %q, want %q", user.Name, tt.wantName)
			}

			ident := store.identities[ProviderGoogle+"/g-1"]
			if ident == nil || ident.UserID != user.ID {
				t.Errorf("identity = %+v, want one bound to %s", ident, user.ID)
			}
			if _, ok := store.sessions[session.ID]; !ok {
				t.Error("session should be persisted")
			}
		})
	}
}

func TestHandleCallback_ReturningUserKeepsUserID(t *testing.T) {
	store := newMemStore()
	svc := newTestService(googleUser("g-2", "back@example.com", "Back"), store)

	first, err := svc.HandleCallback(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("first sign-in error = %v", err)
	}
	second, err := svc.HandleCallback(context.Background(), "code-2")
	if err != nil {
		t.Fatalf("second sign-in error = %v", err)
	}

	if first.UserID != second.UserID {
		t.Errorf("user changed across sign-ins: %q -> %q", first.UserID, second.UserID)
	}
	if first.ID == second.ID {
		t.Error("each sign-in should issue a new session")
	}
	if len(store.users) != 1 {
		t.Errorf("users = %d, want 1", len(store.users))
	}
}

// TestHandleCallback_ConcurrentFirstSignIn は並行作成でErrConflictになった場合に
// 先に作られたユーザーでセッションを発行することを検証する。
func TestHandleCallback_ConcurrentFirstSignIn(t *testing.T) {
	store := newMemStore()
	store.createErr = fmt.Errorf("identity google/g-3: %w", repository.ErrConflict)
	store.afterCreateErr = func() {
		store.identities[ProviderGoogle+"/g-3"] = &model.Identity{ID: "ident-x", UserID: "winner-user", Provider: ProviderGoogle, ProviderUserID: "g-3"}
	}
	svc := newTestService(googleUser("g-3", "race@example.com", "Race"), store)

	session, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "winner-user" {
		t.Errorf("session user = %q, want winner-user", session.UserID)
	}
}

func TestHandleCallback_Errors(t *testing.T) {
	dbErr := errors.New("db error")

	tests := []struct {
		name     string
		provider *mockOAuthProvider
		setup    func(*memStore)
		wantErr  error
	}{
		{
			name:     "exchange fails",
			provider: &mockOAuthProvider{},
		},
		{
			name:     "user creation fails",
			provider: googleUser("g-4", "a@example.com", "A"),
			setup:    func(s *memStore) { s.createErr = dbErr },
			wantErr:  dbErr,
		},
		{
			name:     "conflict without visible identity",
			provider: googleUser("g-5", "b@example.com", "B"),
			setup:    func(s *memStore) { s.createErr = repository.ErrConflict },
			wantErr:  repository.ErrConflict,
		},
		{
			name:     "session creation fails",
			provider: googleUser("g-6", "c@example.com", "C"),
			setup:    func(s *memStore) { s.sessionErr = dbErr },
			wantErr:  dbErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.setup != nil {
				tt.setup(store)
			}
			svc := newTestService(tt.provider, store)

			session, err := svc.HandleCallback(context.Background(), "code")
			if err == nil {
				t.Fatalf("expected error, got session %+v", session)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	store := newMemStore()
	store.sessions["s-1"] = &model.Session{ID: "s-1", UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestService(nil, store)

	if err := svc.Logout(context.Background(), "s-1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, ok := store.sessions["s-1"]; ok {
		t.Error("session should be deleted")
	}
	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Error("Logout(\"\") should fail")
	}
}

func TestGetCurrentUser(t *testing.T) {
	store := newMemStore()
	store.users["u-1"] = &model.User{ID: "u-1", Email: "u1@example.com", Name: "U1"}
	store.sessions["valid"] = &model.Session{ID: "valid", UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}
	store.sessions["expired"] = &model.Session{ID: "expired", UserID: "u-1", ExpiresAt: time.Now().Add(-time.Minute)}
	store.sessions["orphan"] = &model.Session{ID: "orphan", UserID: "gone", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestService(nil, store)

	tests := []struct {
		sessionID string
		wantUser  string
	}{
		{sessionID: "valid", wantUser: "u-1"},
		{sessionID: "expired"},
		{sessionID: "orphan"},
		{sessionID: "unknown"},
		{sessionID: ""},
	}

	for _, tt := range tests {
		t.Run("session="+tt.sessionID, func(t *testing.T) {
			user, err := svc.GetCurrentUser(context.Background(), tt.sessionID)
			if tt.wantUser == "" {
				if !errors.Is(err, ErrSessionNotFound) {
					t.Errorf("error = %v, want ErrSessionNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetCurrentUser() error = %v", err)
			}
			if user.ID != tt.wantUser {
				t.Errorf("user = %q, want %q", user.ID, tt.wantUser)
			}
		})
	}
}

func TestCreateSession_UsesConfiguredTTL(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore()
	svc := NewService(nil, store, store, sessionStore{store}, ServiceConfig{SessionTTL: 2 * time.Hour})
	svc.now = func() time.Time { return base }

	session, err := svc.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if !session.ExpiresAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, base.Add(2*time.Hour))
	}
	if !session.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", session.CreatedAt, base)
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}
}
