// Package model はドメインモデルを定義する。
package model

import "time"

// Role は呼び出し元の権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。自身の申請のみ操作できる。
	RoleUser Role = "user"
	// RoleAdmin は管理者。全申請の閲覧・更新・削除と審査結果の決定ができる。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// CallerIdentity は検証済みの資格情報から解決したリクエスト単位の呼び出し元。
// 永続化されず、読み取り専用で扱う。
type CallerIdentity struct {
	UserID string
	Role   Role
}

// IsAdmin は呼び出し元が管理者かを返す。
func (c CallerIdentity) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Authenticated は呼び出し元が解決済みかを返す。
func (c CallerIdentity) Authenticated() bool {
	return c.UserID != "" && c.Role.Valid()
}

// User はサービス利用ユーザーを表す。
// アカウントの作成は外部の認証基盤で行われ、ここでは表示情報の参照にのみ使う。
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnerSummary は申請者の最小限の表示情報。
type OwnerSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
