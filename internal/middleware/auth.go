// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/visadesk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
var callerContextKey = contextKey("caller")

// IdentityResolver はBearerトークンから呼び出し元を解決するインターフェース。
// auth.Service が実装する。
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (model.CallerIdentity, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 呼び出し元をリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない、または検証に失敗した場合は401を返す。
func NewAuthMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteError(w, model.NewUnauthenticatedError())
				return
			}

			caller, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if model.KindOf(err) == model.KindUnauthenticated {
					WriteError(w, model.NewUnauthenticatedError())
					return
				}
				slog.Error("failed to resolve caller",
					slog.String("error", err.Error()),
				)
				WriteError(w, model.NewInternalError())
				return
			}

			// ロギングミドルウェアへ呼び出し元を伝える
			if info := requestInfoFromContext(r.Context()); info != nil {
				info.caller = caller
			}

			next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole は呼び出し元が指定ロールを持たない場合に403を返すミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				WriteError(w, model.NewUnauthenticatedError())
				return
			}
			if caller.Role != role {
				WriteError(w, model.NewAdminOnlyError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CallerFromContext はリクエストコンテキストから呼び出し元を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (model.CallerIdentity, bool) {
	caller, ok := ctx.Value(callerContextKey).(model.CallerIdentity)
	if !ok || !caller.Authenticated() {
		return model.CallerIdentity{}, false
	}
	return caller, true
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCaller(ctx context.Context, caller model.CallerIdentity) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}
