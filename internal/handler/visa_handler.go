package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/visadesk/internal/middleware"
	"github.com/hitoshi/visadesk/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// VisaServiceInterface はビザ申請ハンドラーが必要とするサービスインターフェース。
type VisaServiceInterface interface {
	Submit(ctx context.Context, caller model.CallerIdentity, sub model.VisaSubmission) (*model.VisaApplication, error)
	ListMine(ctx context.Context, caller model.CallerIdentity) ([]*model.VisaApplication, error)
	GetOne(ctx context.Context, caller model.CallerIdentity, id string) (*model.VisaApplication, error)
	UpdateFields(ctx context.Context, caller model.CallerIdentity, id string, patch model.VisaPatch) (*model.VisaApplication, error)
	Delete(ctx context.Context, caller model.CallerIdentity, id string) error
	AdminListAll(ctx context.Context, caller model.CallerIdentity) ([]*model.VisaApplicationWithOwner, error)
	AdminDecide(ctx context.Context, caller model.CallerIdentity, id string, status string) (*model.VisaApplication, error)
}

// VisaHandler はビザ申請のHTTPハンドラー。
type VisaHandler struct {
	service VisaServiceInterface
}

// NewVisaHandler はVisaHandlerを生成する。
func NewVisaHandler(service VisaServiceInterface) *VisaHandler {
	return &VisaHandler{service: service}
}

// documentPayload は書類参照のリクエスト/レスポンス共通表現。
type documentPayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// submitVisaRequest は新規申請リクエストのボディ。
// status や ownerId が含まれていても読み取らない。
type submitVisaRequest struct {
	DestinationCountry string            `json:"destinationCountry"`
	VisaType           string            `json:"visaType"`
	Documents          []documentPayload `json:"documents"`
	Notes              string            `json:"notes"`
}

// updateVisaRequest は部分更新リクエストのボディ。省略されたフィールドは変更しない。
type updateVisaRequest struct {
	DestinationCountry *string            `json:"destinationCountry"`
	VisaType           *string            `json:"visaType"`
	Documents          *[]documentPayload `json:"documents"`
	Notes              *string            `json:"notes"`
}

// decideStatusRequest は審査結果更新リクエストのボディ。
type decideStatusRequest struct {
	Status string `json:"status"`
}

// visaApplicationResponse はビザ申請のAPIレスポンス。
type visaApplicationResponse struct {
	ID                 string            `json:"id"`
	OwnerID            string            `json:"ownerId"`
	DestinationCountry string            `json:"destinationCountry"`
	VisaType           string            `json:"visaType"`
	ApplicationDate    time.Time         `json:"applicationDate"`
	Status             string            `json:"status"`
	Documents          []documentPayload `json:"documents"`
	Notes              string            `json:"notes"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// adminVisaApplicationResponse は管理者一覧向けに申請者情報を付与したレスポンス。
type adminVisaApplicationResponse struct {
	visaApplicationResponse
	Owner *model.OwnerSummary `json:"owner"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Submit は新規申請を処理する。
// POST /api/v1/visas
func (h *VisaHandler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req submitVisaRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	app, err := h.service.Submit(r.Context(), caller, model.VisaSubmission{
		DestinationCountry: req.DestinationCountry,
		VisaType:           req.VisaType,
		Documents:          toModelDocuments(req.Documents),
		Notes:              req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toVisaApplicationResponse(app))
}

// ListMine は呼び出し元自身の申請一覧を返す。
// GET /api/v1/visas
func (h *VisaHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	apps, err := h.service.ListMine(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]visaApplicationResponse, len(apps))
	for i, app := range apps {
		resp[i] = toVisaApplicationResponse(app)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOne は申請詳細を返す。
// GET /api/v1/visas/{id}
func (h *VisaHandler) GetOne(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	app, err := h.service.GetOne(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toVisaApplicationResponse(app))
}

// UpdateFields は申請内容を部分更新する。
// PUT /api/v1/visas/{id}
func (h *VisaHandler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req updateVisaRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	patch := model.VisaPatch{
		DestinationCountry: req.DestinationCountry,
		VisaType:           req.VisaType,
		Notes:              req.Notes,
	}
	if req.Documents != nil {
		docs := toModelDocuments(*req.Documents)
		patch.Documents = &docs
	}

	app, err := h.service.UpdateFields(r.Context(), caller, chi.URLParam(r, "id"), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toVisaApplicationResponse(app))
}

// Delete は申請を削除する。
// DELETE /api/v1/visas/{id}
func (h *VisaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Visa application removed"})
}

// AdminListAll は全申請を申請者情報付きで返す。
// GET /api/v1/visas/admin/all
func (h *VisaHandler) AdminListAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	apps, err := h.service.AdminListAll(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]adminVisaApplicationResponse, len(apps))
	for i, app := range apps {
		resp[i] = adminVisaApplicationResponse{
			visaApplicationResponse: toVisaApplicationResponse(&app.VisaApplication),
			Owner:                   app.Owner,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminDecide は申請のステータスを更新する。
// PUT /api/v1/visas/admin/{id}/status
func (h *VisaHandler) AdminDecide(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req decideStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	app, err := h.service.AdminDecide(r.Context(), caller, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toVisaApplicationResponse(app))
}

// --- ヘルパー関数 ---

// callerOrUnauthorized はコンテキストから呼び出し元を取り出す。存在しなければ401を書き込む。
func callerOrUnauthorized(w http.ResponseWriter, r *http.Request) (model.CallerIdentity, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, model.NewUnauthenticatedError())
		return model.CallerIdentity{}, false
	}
	return caller, true
}

// decodeJSONBody はリクエストボディをJSONとして読み込む。失敗時は400を書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError())
		return false
	}
	return true
}

func toModelDocuments(docs []documentPayload) []model.Document {
	if docs == nil {
		return nil
	}
	result := make([]model.Document, len(docs))
	for i, d := range docs {
		result[i] = model.Document{Name: d.Name, URL: d.URL}
	}
	return result
}

// toVisaApplicationResponse はmodel.VisaApplicationからAPIレスポンスに変換する。
func toVisaApplicationResponse(app *model.VisaApplication) visaApplicationResponse {
	docs := make([]documentPayload, len(app.Documents))
	for i, d := range app.Documents {
		docs[i] = documentPayload{Name: d.Name, URL: d.URL}
	}
	return visaApplicationResponse{
		ID:                 app.ID,
		OwnerID:            app.OwnerID,
		DestinationCountry: app.DestinationCountry,
		VisaType:           app.VisaType,
		ApplicationDate:    app.ApplicationDate,
		Status:             string(app.Status),
		Documents:          docs,
		Notes:              app.Notes,
		CreatedAt:          app.CreatedAt,
		UpdatedAt:          app.UpdatedAt,
	}
}
