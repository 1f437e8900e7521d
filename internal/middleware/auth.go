// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/socialfeed/internal/identity"
	"github.com/hitoshi/socialfeed/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// userIDHolderKey は外側のミドルウェアへ認証済みユーザーIDを伝えるためのキー。
var userIDHolderKey = contextKey("user_id_holder")

// userIDHolder はロギングミドルウェアが用意し、認証ミドルウェアが書き込む。
// 同一リクエストのゴルーチン内でのみ読み書きされる。
type userIDHolder struct {
	userID string
}

func withUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderKey, h)
}

// IdentitySyncer は検証済みトークンのクレームをIDディレクトリのユーザーコピーに反映する。
type IdentitySyncer interface {
	Sync(ctx context.Context, claims identity.Claims) (*model.User, error)
}

// TokenClaims はアクセストークンのクレーム。sub がユーザーID。
type TokenClaims struct {
	Handle string `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier はHS256で署名されたアクセストークンを検証する。
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewTokenVerifier はTokenVerifierを生成する。issuer が空の場合は iss を検証しない。
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

// Verify はトークンを検証してクレームを返す。
// 署名方式がHS256以外、期限切れ、sub が空の場合はエラーを返す。
func (v *TokenVerifier) Verify(token string) (identity.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims TokenClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return identity.Claims{}, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return identity.Claims{}, errors.New("verify token: missing subject")
	}

	return identity.Claims{
		UserID:      claims.Subject,
		Handle:      claims.Handle,
		DisplayName: claims.Name,
	}, nil
}

// Sign はクレームからアクセストークンを発行する。開発用のトークン発行とテストで使用する。
func (v *TokenVerifier) Sign(c identity.Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Handle: c.Handle,
		Name:   c.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenSource はリクエストからトークンを取り出す。
type TokenSource func(r *http.Request) string

// BearerToken は Authorization: Bearer ヘッダーからトークンを取り出す。
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// QueryToken は ?token= クエリからトークンを取り出す。
// ブラウザのWebSocket APIはヘッダーを設定できないため、WebSocketの接続時に使用する。
func QueryToken(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// NewAuthMiddleware はアクセストークンを検証し、ユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// クレームはIDディレクトリに同期する。未認証リクエストには401を返す。
// 同期時にIDディレクトリが利用できない場合は503を返す。
func NewAuthMiddleware(verifier *TokenVerifier, syncer IdentitySyncer, source TokenSource) func(next http.Handler) http.Handler {
	if source == nil {
		source = BearerToken
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := source(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				slog.Warn("access token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if syncer != nil {
				if _, err := syncer.Sync(r.Context(), claims); err != nil {
					var apiErr *model.APIError
					if errors.As(err, &apiErr) && model.IsRetryable(err) {
						WriteUnavailable(w, apiErr)
						return
					}
					slog.Error("failed to sync identity",
						slog.String("user_id", claims.UserID),
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
			}

			if h, ok := r.Context().Value(userIDHolderKey).(*userIDHolder); ok {
				h.userID = claims.UserID
			}
			ctx := ContextWithUserID(r.Context(), claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
