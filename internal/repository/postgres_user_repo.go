package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/visadesk/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
// users.id はUUID型のため、UUIDとして解釈できないIDは問い合わせずに未登録として扱う。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	user := &model.User{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &role, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.Role = model.Role(role)
	return user, nil
}

// FindSummariesByIDs は指定IDのユーザー表示情報を1回のクエリでまとめて取得する。
func (r *PostgresUserRepo) FindSummariesByIDs(ctx context.Context, ids []string) (map[string]model.OwnerSummary, error) {
	summaries := make(map[string]model.OwnerSummary, len(ids))

	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return summaries, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, email FROM users WHERE id = ANY($1::uuid[])`,
		pq.Array(valid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.OwnerSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Email); err != nil {
			return nil, fmt.Errorf("failed to scan user summary: %w", err)
		}
		summaries[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user summaries: %w", err)
	}

	return summaries, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
