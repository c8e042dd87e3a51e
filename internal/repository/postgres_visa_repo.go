package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/visadesk/internal/model"
)

const visaColumns = `id, owner_id, destination_country, visa_type, application_date, status,
		documents, notes, revision, created_at, updated_at`

// documentRow は documents カラム（JSONB）の要素の保存形式。
type documentRow struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// documentsJSON は書類一覧とJSONBカラムの相互変換を行う。
type documentsJSON []model.Document

// Value は driver.Valuer を実装する。nilは空配列として保存する。
func (d documentsJSON) Value() (driver.Value, error) {
	rows := make([]documentRow, len(d))
	for i, doc := range d {
		rows[i] = documentRow{Name: doc.Name, URL: doc.URL}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan は sql.Scanner を実装する。
func (d *documentsJSON) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*d = documentsJSON{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into documentsJSON", value)
	}

	var rows []documentRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	docs := make(documentsJSON, len(rows))
	for i, r := range rows {
		docs[i] = model.Document{Name: r.Name, URL: r.URL}
	}
	*d = docs
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVisaApplication(s rowScanner) (*model.VisaApplication, error) {
	app := &model.VisaApplication{}
	var docs documentsJSON
	var status string
	err := s.Scan(
		&app.ID, &app.OwnerID, &app.DestinationCountry, &app.VisaType, &app.ApplicationDate, &status,
		&docs, &app.Notes, &app.Revision, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.Status = model.VisaStatus(status)
	app.Documents = []model.Document(docs)
	return app, nil
}

// PostgresVisaRepo はPostgreSQLを使用したビザ申請リポジトリ。
type PostgresVisaRepo struct {
	db *sql.DB
}

// NewPostgresVisaRepo はPostgresVisaRepoを生成する。
func NewPostgresVisaRepo(db *sql.DB) *PostgresVisaRepo {
	return &PostgresVisaRepo{db: db}
}

// Create は申請を作成する。版番号は1から始まる。
func (r *PostgresVisaRepo) Create(ctx context.Context, app *model.VisaApplication) error {
	// 申請日・作成日時・更新日時はUpdateと同じくDBの時刻で揃える
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO visa_applications
		 (id, owner_id, destination_country, visa_type, status, documents, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING application_date, revision, created_at, updated_at`,
		app.ID, app.OwnerID, app.DestinationCountry, app.VisaType, string(app.Status),
		documentsJSON(app.Documents), app.Notes,
	).Scan(&app.ApplicationDate, &app.Revision, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("申請の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresVisaRepo) FindByID(ctx context.Context, id string) (*model.VisaApplication, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+visaColumns+` FROM visa_applications WHERE id = $1`,
		id,
	)
	app, err := scanVisaApplication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	return app, nil
}

// ListByOwner は指定ユーザーの申請を作成日時の降順で返す。
func (r *PostgresVisaRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.VisaApplication, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+visaColumns+` FROM visa_applications
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("申請一覧の取得に失敗しました: %w", err)
	}
	return collectVisaApplications(rows)
}

// ListAll は全申請を作成日時の降順で返す。
func (r *PostgresVisaRepo) ListAll(ctx context.Context) ([]*model.VisaApplication, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+visaColumns+` FROM visa_applications
		 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("全申請一覧の取得に失敗しました: %w", err)
	}
	return collectVisaApplications(rows)
}

func collectVisaApplications(rows *sql.Rows) ([]*model.VisaApplication, error) {
	defer rows.Close()

	apps := []*model.VisaApplication{}
	for rows.Next() {
		app, err := scanVisaApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("申請のスキャンに失敗しました: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("申請一覧の走査に失敗しました: %w", err)
	}
	return apps, nil
}

// Update は版番号が一致する場合のみ申請を上書きする。
// 0行更新の場合は存在確認を行い、ErrNotFound と ErrConflict を区別する。
// 削除と競合した更新は ErrNotFound となり、削除済みの行を復活させない。
func (r *PostgresVisaRepo) Update(ctx context.Context, app *model.VisaApplication) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE visa_applications
		 SET destination_country = $2, visa_type = $3, status = $4, documents = $5, notes = $6,
		     revision = revision + 1, updated_at = NOW()
		 WHERE id = $1 AND revision = $7
		 RETURNING revision, updated_at`,
		app.ID, app.DestinationCountry, app.VisaType, string(app.Status),
		documentsJSON(app.Documents), app.Notes, app.Revision,
	).Scan(&app.Revision, &app.UpdatedAt)

	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("申請の更新に失敗しました: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM visa_applications WHERE id = $1)`,
		app.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("申請の存在確認に失敗しました: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// Delete は指定IDの申請を削除する。
func (r *PostgresVisaRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM visa_applications WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("申請の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ VisaApplicationRepository = (*PostgresVisaRepo)(nil)
