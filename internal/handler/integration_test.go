package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/visadesk/internal/middleware"
	"github.com/hitoshi/visadesk/internal/model"
	"github.com/hitoshi/visadesk/internal/repository"
	"github.com/hitoshi/visadesk/internal/security"
	"github.com/hitoshi/visadesk/internal/visa"
)

// --- 統合テスト用のステートフルモック ---

// memoryVisaRepo は統合テスト用のインメモリ申請ストア。
type memoryVisaRepo struct {
	mu   sync.Mutex
	apps map[string]*model.VisaApplication
}

func newMemoryVisaRepo() *memoryVisaRepo {
	return &memoryVisaRepo{apps: make(map[string]*model.VisaApplication)}
}

func (r *memoryVisaRepo) Create(ctx context.Context, app *model.VisaApplication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app.Revision = 1
	r.apps[app.ID] = app.Clone()
	return nil
}

func (r *memoryVisaRepo) FindByID(ctx context.Context, id string) (*model.VisaApplication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apps[id].Clone(), nil
}

func (r *memoryVisaRepo) list(match func(*model.VisaApplication) bool) []*model.VisaApplication {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.VisaApplication
	for _, app := range r.apps {
		if match(app) {
			result = append(result, app.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (r *memoryVisaRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.VisaApplication, error) {
	return r.list(func(a *model.VisaApplication) bool { return a.OwnerID == ownerID }), nil
}

func (r *memoryVisaRepo) ListAll(ctx context.Context) ([]*model.VisaApplication, error) {
	return r.list(func(*model.VisaApplication) bool { return true }), nil
}

func (r *memoryVisaRepo) Update(ctx context.Context, app *model.VisaApplication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.apps[app.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Revision != app.Revision {
		return repository.ErrConflict
	}
	app.Revision++
	app.UpdatedAt = time.Now()
	r.apps[app.ID] = app.Clone()
	return nil
}

func (r *memoryVisaRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.apps, id)
	return nil
}

// staticDirectory は固定の申請者情報を返すディレクトリ。
type staticDirectory map[string]model.OwnerSummary

func (d staticDirectory) Lookup(ctx context.Context, ids []string) (map[string]model.OwnerSummary, error) {
	result := make(map[string]model.OwnerSummary)
	for _, id := range ids {
		if s, ok := d[id]; ok {
			result[id] = s
		}
	}
	return result, nil
}

// staticResolver はトークン文字列をそのまま呼び出し元に対応付ける。
type staticResolver map[string]model.CallerIdentity

func (r staticResolver) Resolve(ctx context.Context, token string) (model.CallerIdentity, error) {
	caller, ok := r[token]
	if !ok {
		return model.CallerIdentity{}, model.NewUnauthenticatedError()
	}
	return caller, nil
}

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationRouter(t *testing.T) http.Handler {
	t.Helper()

	svc := visa.NewService(
		newMemoryVisaRepo(),
		staticDirectory{"user-u": {ID: "user-u", Name: "Uma", Email: "uma@example.com"}},
		security.NewMarkupDetector(),
		security.NewDocumentURLValidator(),
		nil,
	)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		IdentityResolver: staticResolver{
			"token-u":     {UserID: "user-u", Role: model.RoleUser},
			"token-v":     {UserID: "user-v", Role: model.RoleUser},
			"token-admin": {UserID: "admin-1", Role: model.RoleAdmin},
		},
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		RateLimiter:        rl,
		VisaService:        svc,
	})
}

func doRequest(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeApplication(t *testing.T, w *httptest.ResponseRecorder) visaApplicationResponse {
	t.Helper()
	var resp visaApplicationResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	return resp
}

// --- 統合テスト ---

// 申請者以外は閲覧できず、管理者は閲覧できる
func TestIntegration_OwnerIsolation(t *testing.T) {
	router := createIntegrationRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/visas", "token-u",
		`{"destinationCountry":"Japan","visaType":"Tourist","status":"Approved","ownerId":"user-v"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
	created := decodeApplication(t, w)
	if created.Status != "Submitted" || created.OwnerID != "user-u" {
		t.Fatalf("created = %+v", created)
	}

	path := "/api/v1/visas/" + created.ID

	if w := doRequest(t, router, http.MethodGet, path, "token-v", ""); w.Code != http.StatusForbidden {
		t.Errorf("other user status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := doRequest(t, router, http.MethodGet, path, "token-admin", ""); w.Code != http.StatusOK {
		t.Errorf("admin status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := doRequest(t, router, http.MethodGet, path, "token-u", ""); w.Code != http.StatusOK {
		t.Errorf("owner status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := doRequest(t, router, http.MethodGet, path, "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// 一覧は自分の申請のみ
	w = doRequest(t, router, http.MethodGet, "/api/v1/visas", "token-v", "")
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("other user list = %s, want []", got)
	}
}

// 審査結果は申請者による内容更新後も維持される
func TestIntegration_DecisionSurvivesOwnerEdit(t *testing.T) {
	router := createIntegrationRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/visas", "token-u", `{"destinationCountry":"Japan","visaType":"Tourist"}`)
	created := decodeApplication(t, w)

	w = doRequest(t, router, http.MethodPut, "/api/v1/visas/admin/"+created.ID+"/status", "token-admin", `{"status":"Approved"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("decide status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decodeApplication(t, w).Status; got != "Approved" {
		t.Fatalf("status = %q, want Approved", got)
	}

	w = doRequest(t, router, http.MethodPut, "/api/v1/visas/"+created.ID, "token-u", `{"notes":"passport renewed","status":"Submitted"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, want %d", w.Code, http.StatusOK)
	}
	updated := decodeApplication(t, w)
	if updated.Status != "Approved" {
		t.Errorf("status = %q, want Approved", updated.Status)
	}
	if updated.Notes != "passport renewed" {
		t.Errorf("notes = %q, want %q", updated.Notes, "passport renewed")
	}
}

func TestIntegration_AdminRoutesRequireAdmin(t *testing.T) {
	router := createIntegrationRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/visas", "token-u", `{"destinationCountry":"Japan","visaType":"Work"}`)
	created := decodeApplication(t, w)

	if w := doRequest(t, router, http.MethodGet, "/api/v1/visas/admin/all", "token-u", ""); w.Code != http.StatusForbidden {
		t.Errorf("list all as user = %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := doRequest(t, router, http.MethodPut, "/api/v1/visas/admin/"+created.ID+"/status", "token-u", `{"status":"Approved"}`); w.Code != http.StatusForbidden {
		t.Errorf("decide as user = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/visas/admin/all", "token-admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list all as admin = %d, want %d", w.Code, http.StatusOK)
	}
	var all []adminVisaApplicationResponse
	if err := json.NewDecoder(w.Body).Decode(&all); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(all) != 1 || all[0].Owner == nil || all[0].Owner.Name != "Uma" {
		t.Errorf("admin list = %+v", all)
	}

	// 不正なステータスは記録を変更しない
	w = doRequest(t, router, http.MethodPut, "/api/v1/visas/admin/"+created.ID+"/status", "token-admin", `{"status":"approved"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	w = doRequest(t, router, http.MethodGet, "/api/v1/visas/"+created.ID, "token-admin", "")
	if got := decodeApplication(t, w).Status; got != "Submitted" {
		t.Errorf("status = %q, want Submitted", got)
	}
}

// 存在しないIDはどの呼び出し元にも404を返す
func TestIntegration_MissingIDIsNotFound(t *testing.T) {
	router := createIntegrationRouter(t)
	path := "/api/v1/visas/00000000-0000-0000-0000-000000000000"

	for _, token := range []string{"token-u", "token-v", "token-admin"} {
		if w := doRequest(t, router, http.MethodGet, path, token, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET as %s = %d, want %d", token, w.Code, http.StatusNotFound)
		}
		if w := doRequest(t, router, http.MethodPut, path, token, `{"notes":"x"}`); w.Code != http.StatusNotFound {
			t.Errorf("PUT as %s = %d, want %d", token, w.Code, http.StatusNotFound)
		}
		if w := doRequest(t, router, http.MethodDelete, path, token, ""); w.Code != http.StatusNotFound {
			t.Errorf("DELETE as %s = %d, want %d", token, w.Code, http.StatusNotFound)
		}
	}
}

func TestIntegration_DeleteLifecycle(t *testing.T) {
	router := createIntegrationRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/visas", "token-u", `{"destinationCountry":"France","visaType":"Student"}`)
	created := decodeApplication(t, w)
	path := "/api/v1/visas/" + created.ID

	if w := doRequest(t, router, http.MethodDelete, path, "token-v", ""); w.Code != http.StatusForbidden {
		t.Errorf("delete by other = %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := doRequest(t, router, http.MethodDelete, path, "token-u", ""); w.Code != http.StatusOK {
		t.Errorf("delete by owner = %d, want %d", w.Code, http.StatusOK)
	}
	if w := doRequest(t, router, http.MethodGet, path, "token-u", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want %d", w.Code, http.StatusNotFound)
	}
}
