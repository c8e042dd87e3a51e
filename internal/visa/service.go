// Package visa はビザ申請のユースケースを提供する。
//
// 各ユースケースは「読み込み → 認可 → ライフサイクル適用 → 永続化」の順に処理し、
// 永続化後のレコードを返す。認可判定は policy.CanAct に、項目とステータスの適用は
// lifecycle パッケージに委譲する。
package visa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/visadesk/internal/lifecycle"
	"github.com/hitoshi/visadesk/internal/metrics"
	"github.com/hitoshi/visadesk/internal/model"
	"github.com/hitoshi/visadesk/internal/policy"
	"github.com/hitoshi/visadesk/internal/repository"
	"github.com/hitoshi/visadesk/internal/security"
)

const (
	// MaxDocuments は1件の申請に添付できる書類の上限数。
	MaxDocuments = 20
	// MaxNotesLength は備考の最大文字数。
	MaxNotesLength = 2000
	// MaxDocumentNameLength は書類名の最大文字数。
	MaxDocumentNameLength = 255
)

// ユースケース名。メトリクスのラベルとして使用する。
const (
	opSubmit       = "submit"
	opListMine     = "list_mine"
	opGetOne       = "get_one"
	opUpdateFields = "update_fields"
	opDelete       = "delete"
	opAdminListAll = "admin_list_all"
	opAdminDecide  = "admin_decide"
)

// OwnerDirectory は申請者の表示情報を提供する外部ディレクトリ。
type OwnerDirectory interface {
	Lookup(ctx context.Context, ids []string) (map[string]model.OwnerSummary, error)
}

// Service はビザ申請のサービス層。
type Service struct {
	repo      repository.VisaApplicationRepository
	owners    OwnerDirectory
	markup    security.MarkupDetector
	urls      security.DocumentURLValidator
	metrics   metrics.MetricsCollector

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.VisaApplicationRepository,
	owners OwnerDirectory,
	markup security.MarkupDetector,
	urls security.DocumentURLValidator,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		owners:    owners,
		markup:    markup,
		urls:      urls,
		metrics:   collector,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Submit は新規申請を作成する。申請者は呼び出し元、ステータスは Submitted になる。
func (s *Service) Submit(ctx context.Context, caller model.CallerIdentity, sub model.VisaSubmission) (app *model.VisaApplication, err error) {
	defer s.observe(opSubmit, s.now(), &err)

	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}
	if !policy.CanAct(caller, nil, policy.ActionCreate) {
		return nil, model.NewForbiddenError("作成")
	}

	docs, err := s.cleanDocuments(sub.Documents)
	if err != nil {
		return nil, err
	}
	notes, err := s.cleanNotes(sub.Notes)
	if err != nil {
		return nil, err
	}
	sub.Documents = docs
	sub.Notes = notes

	app, err = lifecycle.NewApplication(caller, sub, s.now().UTC())
	if err != nil {
		return nil, err
	}
	app.ID = s.newID()

	if err := s.repo.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("申請の作成に失敗しました: %w", err)
	}

	slog.Info("visa application submitted",
		slog.String("application_id", app.ID),
		slog.String("user_id", caller.UserID),
	)
	return app, nil
}

// ListMine は呼び出し元の申請を作成日時の降順で返す。
func (s *Service) ListMine(ctx context.Context, caller model.CallerIdentity) (apps []*model.VisaApplication, err error) {
	defer s.observe(opListMine, s.now(), &err)

	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}
	if !policy.CanAct(caller, nil, policy.ActionReadOwn) {
		return nil, model.NewForbiddenError("閲覧")
	}

	apps, err = s.repo.ListByOwner(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("申請一覧の取得に失敗しました: %w", err)
	}
	return apps, nil
}

// GetOne は指定IDの申請を返す。
// 存在確認を認可より先に行うため、存在しないIDには常に NotFound を返す。
func (s *Service) GetOne(ctx context.Context, caller model.CallerIdentity, id string) (app *model.VisaApplication, err error) {
	defer s.observe(opGetOne, s.now(), &err)

	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}

	app, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAct(caller, app, policy.ActionReadOwn) {
		return nil, model.NewForbiddenError("閲覧")
	}
	return app, nil
}

// UpdateFields は渡航先国・ビザ種別・書類・備考のうちパッチに含まれる項目を更新する。
// ステータスはこの経路では変更されない。
func (s *Service) UpdateFields(ctx context.Context, caller model.CallerIdentity, id string, patch model.VisaPatch) (app *model.VisaApplication, err error) {
	defer s.observe(opUpdateFields, s.now(), &err)

	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAct(caller, current, policy.ActionUpdateFields) {
		return nil, model.NewForbiddenError("更新")
	}

	if patch.IsEmpty() {
		return current, nil
	}

	patch, err = s.cleanPatch(patch)
	if err != nil {
		return nil, err
	}

	next, err := lifecycle.ApplyFields(current, patch)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, next); err != nil {
		return nil, storeError(err, id, "申請の更新に失敗しました")
	}

	slog.Info("visa application updated",
		slog.String("application_id", id),
		slog.String("user_id", caller.UserID),
	)
	return next, nil
}

// Delete は申請を削除する。
func (s *Service) Delete(ctx context.Context, caller model.CallerIdentity, id string) (err error) {
	defer s.observe(opDelete, s.now(), &err)

	if !caller.Authenticated() {
		return model.NewUnauthenticatedError()
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !policy.CanAct(caller, current, policy.ActionDelete) {
		return model.NewForbiddenError("削除")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return storeError(err, id, "申請の削除に失敗しました")
	}

	slog.Info("visa application deleted",
		slog.String("application_id", id),
		slog.String("user_id", caller.UserID),
	)
	return nil
}

// AdminListAll は全申請を作成日時の降順で、申請者の表示情報を付与して返す。
// ディレクトリの参照に失敗した場合は申請者情報なしで返す。
func (s *Service) AdminListAll(ctx context.Context, caller model.CallerIdentity) (result []*model.VisaApplicationWithOwner, err error) {
	defer s.observe(opAdminListAll, s.now(), &err)

	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}
	if !policy.CanAct(caller, nil, policy.ActionReadAny) {
		return nil, model.NewAdminOnlyError()
	}

	apps, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("全申請一覧の取得に失敗しました: %w", err)
	}

	ownerIDs := make([]string, 0, len(apps))
	for _, app := range apps {
		ownerIDs = append(ownerIDs, app.OwnerID)
	}

	var owners map[string]model.OwnerSummary
	if s.owners != nil && len(ownerIDs) > 0 {
		owners, err = s.owners.Lookup(ctx, ownerIDs)
		if err != nil {
			slog.Warn("owner lookup failed",
				slog.String("user_id", caller.UserID),
				slog.String("error", err.Error()),
			)
			owners = nil
		}
	}

	result = make([]*model.VisaApplicationWithOwner, len(apps))
	for i, app := range apps {
		row := &model.VisaApplicationWithOwner{VisaApplication: *app}
		if o, ok := owners[app.OwnerID]; ok {
			owner := o
			row.Owner = &owner
		}
		result[i] = row
	}
	return result, nil
}

// AdminDecide は審査ステータスを決定する。管理者のみ実行できる。
// 未定義のステータスは検証エラーとなり、保存済みのレコードは変更されない。
func (s *Service) AdminDecide(ctx context.Context, caller model.CallerIdentity, id string, status string) (app *model.VisaApplication, err error) {
	defer s.observe(opAdminDecide, s.now(), &err)

	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}
	if !policy.CanAct(caller, nil, policy.ActionUpdateStatus) {
		return nil, model.NewAdminOnlyError()
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.ApplyDecision(current, status)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, next); err != nil {
		return nil, storeError(err, id, "ステータスの更新に失敗しました")
	}

	s.metrics.RecordStatusTransition(string(current.Status), string(next.Status))
	slog.Info("visa application status decided",
		slog.String("application_id", id),
		slog.String("user_id", caller.UserID),
		slog.String("from", string(current.Status)),
		slog.String("to", string(next.Status)),
	)
	return next, nil
}

// load はIDで申請を取得する。UUID形式でないIDや存在しないIDは NotFound を返す。
func (s *Service) load(ctx context.Context, id string) (*model.VisaApplication, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewVisaApplicationNotFoundError(id)
	}

	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if app == nil {
		return nil, model.NewVisaApplicationNotFoundError(id)
	}
	return app, nil
}

// cleanDocuments は書類名とURLを検証する。値は書き換えず、前後の空白のみ除去する。
func (s *Service) cleanDocuments(docs []model.Document) ([]model.Document, error) {
	if len(docs) > MaxDocuments {
		return nil, model.NewValidationError(fmt.Sprintf("添付できる書類は%d件までです。", MaxDocuments))
	}

	out := make([]model.Document, 0, len(docs))
	for i, d := range docs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, model.NewValidationError(fmt.Sprintf("%d件目の書類名は必須です。", i+1))
		}
		if utf8.RuneCountInString(name) > MaxDocumentNameLength {
			return nil, model.NewValidationError(fmt.Sprintf("書類名は%d文字以内で入力してください。", MaxDocumentNameLength))
		}
		if s.markup.ContainsMarkup(name) {
			return nil, model.NewValidationError(fmt.Sprintf("%d件目の書類名にHTMLタグは使用できません。", i+1))
		}
		url := strings.TrimSpace(d.URL)
		if url != "" {
			if err := s.urls.ValidateURL(url); err != nil {
				return nil, model.NewValidationError(fmt.Sprintf("書類「%s」のURLが不正です。", name))
			}
		}
		out = append(out, model.Document{Name: name, URL: url})
	}
	return out, nil
}

// cleanNotes は備考を検証する。受け付けた備考は前後の空白を除いてそのまま保存する。
func (s *Service) cleanNotes(notes string) (string, error) {
	trimmed := strings.TrimSpace(notes)
	if utf8.RuneCountInString(trimmed) > MaxNotesLength {
		return "", model.NewValidationError(fmt.Sprintf("備考は%d文字以内で入力してください。", MaxNotesLength))
	}
	if s.markup.ContainsMarkup(trimmed) {
		return "", model.NewValidationError("備考にHTMLタグは使用できません。")
	}
	return trimmed, nil
}

func (s *Service) cleanPatch(patch model.VisaPatch) (model.VisaPatch, error) {
	if patch.Documents != nil {
		docs, err := s.cleanDocuments(*patch.Documents)
		if err != nil {
			return patch, err
		}
		patch.Documents = &docs
	}
	if patch.Notes != nil {
		notes, err := s.cleanNotes(*patch.Notes)
		if err != nil {
			return patch, err
		}
		patch.Notes = &notes
	}
	return patch, nil
}

// observe はユースケースの結果と処理時間を記録する。
func (s *Service) observe(operation string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = string(model.KindOf(*err))
	}
	s.metrics.RecordOperation(operation, outcome)
	s.metrics.RecordOperationLatency(operation, s.now().Sub(start))
}

// storeError は条件付き書き込みの失敗をエラー種別に変換する。
func storeError(err error, id, msg string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.NewVisaApplicationNotFoundError(id)
	case errors.Is(err, repository.ErrConflict):
		return model.NewConflictError(id)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
