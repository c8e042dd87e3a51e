// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/visadesk/internal/model"
)

var (
	// ErrNotFound は更新・削除の対象レコードが存在しない場合に返す。
	ErrNotFound = errors.New("record not found")
	// ErrConflict は条件付き更新で読み込み時の版番号と一致しなかった場合に返す。
	ErrConflict = errors.New("revision conflict")
)

// VisaApplicationRepository はビザ申請データの永続化インターフェース。
type VisaApplicationRepository interface {
	// Create は申請を作成する。成功時に Revision と各日時を保存された値で上書きする。
	Create(ctx context.Context, app *model.VisaApplication) error

	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.VisaApplication, error)

	// ListByOwner は指定ユーザーの申請を作成日時の降順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.VisaApplication, error)

	// ListAll は全申請を作成日時の降順で返す。
	ListAll(ctx context.Context) ([]*model.VisaApplication, error)

	// Update は app.Revision が保存済みの版番号と一致する場合のみ申請を上書きする。
	// 成功時は app の Revision と UpdatedAt を保存後の値に更新する。
	// 対象が存在しない場合は ErrNotFound、版番号が一致しない場合は ErrConflict を返す。
	Update(ctx context.Context, app *model.VisaApplication) error

	// Delete は指定IDの申請を削除する。存在しない場合は ErrNotFound を返す。
	Delete(ctx context.Context, id string) error
}

// UserRepository はユーザーの表示情報を参照するインターフェース。
// アカウントの作成は外部の認証基盤が行う。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindSummariesByIDs は指定IDのユーザー表示情報をまとめて取得する。
	// 存在しないIDは結果のマップに含まれない。
	FindSummariesByIDs(ctx context.Context, ids []string) (map[string]model.OwnerSummary, error)
}
