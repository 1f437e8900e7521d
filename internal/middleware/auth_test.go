package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/socialfeed/internal/identity"
	"github.com/hitoshi/socialfeed/internal/model"
)

const testSecret = "test-secret-with-enough-entropy"

// mockSyncer はIdentitySyncerのモック。
type mockSyncer struct {
	syncFn func(ctx context.Context, claims identity.Claims) (*model.User, error)
	calls  []identity.Claims
}

func (m *mockSyncer) Sync(ctx context.Context, claims identity.Claims) (*model.User, error) {
	m.calls = append(m.calls, claims)
	if m.syncFn != nil {
		return m.syncFn(ctx, claims)
	}
	return &model.User{ID: claims.UserID}, nil
}

func signToken(t *testing.T, v *TokenVerifier, c identity.Claims, ttl time.Duration) string {
	t.Helper()
	token, err := v.Sign(c, ttl)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return token
}

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier(testSecret, "talktobeavs")
	token := signToken(t, v, identity.Claims{UserID: "u1", Handle: "benny", DisplayName: "Benny"}, time.Hour)

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID != "u1" || claims.Handle != "benny" || claims.DisplayName != "Benny" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenVerifier_Rejects(t *testing.T) {
	v := NewTokenVerifier(testSecret, "talktobeavs")

	expired := signToken(t, v, identity.Claims{UserID: "u1"}, -time.Hour)
	otherSecret := signToken(t, NewTokenVerifier("another-secret", "talktobeavs"), identity.Claims{UserID: "u1"}, time.Hour)
	otherIssuer := signToken(t, NewTokenVerifier(testSecret, "elsewhere"), identity.Claims{UserID: "u1"}, time.Hour)
	noSubject := signToken(t, v, identity.Claims{}, time.Hour)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "talktobeavs",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build none token: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "u1",
		Issuer:  "talktobeavs",
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "期限切れ", token: expired},
		{name: "署名鍵が異なる", token: otherSecret},
		{name: "発行者が異なる", token: otherIssuer},
		{name: "subなし", token: noSubject},
		{name: "alg=none", token: noneAlg},
		{name: "expなし", token: noExp},
		{name: "形式不正", token: "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); err == nil {
				t.Error("expected Verify() to fail")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer abc", want: "abc"},
		{header: "Basic abc", want: ""},
		{header: "Bearer", want: ""},
		{header: "", want: ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(req); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestQueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/presence?token=xyz", nil)
	if got := QueryToken(req); got != "xyz" {
		t.Errorf("QueryToken() = %q, want xyz", got)
	}
	req.Header.Set("Authorization", "Bearer header-wins")
	if got := QueryToken(req); got != "header-wins" {
		t.Errorf("QueryToken() = %q, want header-wins", got)
	}
}

func TestAuthMiddleware_InjectsUserIDAndSyncs(t *testing.T) {
	v := NewTokenVerifier(testSecret, "")
	syncer := &mockSyncer{}
	token := signToken(t, v, identity.Claims{UserID: "u42", Handle: "beaver"}, time.Hour)

	var captured string
	handler := NewAuthMiddleware(v, syncer, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if captured != "u42" {
		t.Errorf("user ID = %q, want u42", captured)
	}
	if len(syncer.calls) != 1 || syncer.calls[0].Handle != "beaver" {
		t.Errorf("sync calls = %+v", syncer.calls)
	}
}

func TestAuthMiddleware_Errors(t *testing.T) {
	v := NewTokenVerifier(testSecret, "")
	valid := signToken(t, v, identity.Claims{UserID: "u1"}, time.Hour)

	tests := []struct {
		name       string
		header     string
		syncErr    error
		wantStatus int
		wantRetry  bool
	}{
		{name: "トークンなし", header: "", wantStatus: http.StatusUnauthorized},
		{name: "不正なトークン", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "ディレクトリ利用不可", header: "Bearer " + valid, syncErr: model.NewUnavailableError("IDディレクトリ", errors.New("down")), wantStatus: http.StatusServiceUnavailable, wantRetry: true},
		{name: "同期の内部エラー", header: "Bearer " + valid, syncErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &mockSyncer{syncFn: func(context.Context, identity.Claims) (*model.User, error) {
				return nil, tt.syncErr
			}}
			called := false
			handler := NewAuthMiddleware(v, syncer, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called {
				t.Error("next handler should not be called")
			}
			if got := w.Header().Get("Retry-After") != ""; got != tt.wantRetry {
				t.Errorf("Retry-After present = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
	id, err := UserIDFromContext(ContextWithUserID(context.Background(), "u1"))
	if err != nil || id != "u1" {
		t.Errorf("UserIDFromContext() = %q, %v", id, err)
	}
}
