package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/visadesk/internal/model"
)

// mockResolver はIdentityResolverのテスト用モック。
type mockResolver struct {
	resolveFn func(ctx context.Context, token string) (model.CallerIdentity, error)
}

func (m *mockResolver) Resolve(ctx context.Context, token string) (model.CallerIdentity, error) {
	return m.resolveFn(ctx, token)
}

// tokenResolver は "user-token" と "admin-token" だけを受け付けるリゾルバ。
func tokenResolver() *mockResolver {
	return &mockResolver{
		resolveFn: func(_ context.Context, token string) (model.CallerIdentity, error) {
			switch token {
			case "user-token":
				return model.CallerIdentity{UserID: "user-u", Role: model.RoleUser}, nil
			case "admin-token":
				return model.CallerIdentity{UserID: "admin-1", Role: model.RoleAdmin}, nil
			}
			return model.CallerIdentity{}, model.NewUnauthenticatedError()
		},
	}
}

func TestAuthMiddleware_ValidToken_InjectsCaller(t *testing.T) {
	var captured model.CallerIdentity
	handler := NewAuthMiddleware(tokenResolver())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visas", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured.UserID != "user-u" || captured.Role != model.RoleUser {
		t.Errorf("caller = %+v, want user-u/user", captured)
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"ヘッダーなし", ""},
		{"Bearer以外のスキーム", "Basic dXNlcjpwYXNz"},
		{"トークンが空", "Bearer "},
		{"不正なトークン", "Bearer forged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			handler := NewAuthMiddleware(tokenResolver())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/visas", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if handlerCalled {
				t.Error("handler should not be called")
			}
		})
	}
}

// スキーム名の大文字小文字は区別しない
func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	handler := NewAuthMiddleware(tokenResolver())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer admin-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_ResolverFailure_Returns500(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(context.Context, string) (model.CallerIdentity, error) {
			return model.CallerIdentity{}, errors.New("db down")
		},
	}
	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		caller *model.CallerIdentity
		want   int
	}{
		{"管理者は通過", &model.CallerIdentity{UserID: "admin-1", Role: model.RoleAdmin}, http.StatusOK},
		{"一般ユーザーは403", &model.CallerIdentity{UserID: "user-u", Role: model.RoleUser}, http.StatusForbidden},
		{"呼び出し元なしは401", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/visas/admin/all", nil)
			if tt.caller != nil {
				req = req.WithContext(ContextWithCaller(req.Context(), *tt.caller))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCallerFromContext_NoValue(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Error("expected no caller in empty context")
	}
}

// 未定義ロールの呼び出し元はコンテキストにあっても未認証として扱う
func TestCallerFromContext_InvalidRole(t *testing.T) {
	ctx := ContextWithCaller(context.Background(), model.CallerIdentity{UserID: "x", Role: "root"})
	if _, ok := CallerFromContext(ctx); ok {
		t.Error("expected invalid role to be rejected")
	}
}
