// Package policy はビザ申請に対する操作可否の判定を提供する。
//
// 所有者チェックと管理者オーバーライドはすべてこのパッケージの CanAct に集約する。
// ユースケース側は状態を変更する前に CanAct を1回だけ呼び出す。
package policy

import "github.com/hitoshi/visadesk/internal/model"

// Action は申請に対する操作の種類を表す。
type Action string

const (
	// ActionCreate は新規申請の作成。
	ActionCreate Action = "create"
	// ActionReadOwn は自身の申請の閲覧。対象を指定しない場合は自身の一覧取得を表す。
	ActionReadOwn Action = "read_own"
	// ActionReadAny は所有者を問わない閲覧（管理者一覧）。
	ActionReadAny Action = "read_any"
	// ActionUpdateFields はステータス以外の項目の更新。
	ActionUpdateFields Action = "update_fields"
	// ActionUpdateStatus は審査ステータスの決定。
	ActionUpdateStatus Action = "update_status"
	// ActionDelete は申請の削除。
	ActionDelete Action = "delete"
)

// adminOnly は所有者であっても一般ユーザーには許可しない操作。
var adminOnly = map[Action]bool{
	ActionReadAny:      true,
	ActionUpdateStatus: true,
}

// CanAct は呼び出し元が対象の申請に対して操作を行えるかを判定する。
// resourceがnilの場合は対象を持たない操作（作成・自身の一覧）として扱う。
//
// 判定順序（最初に一致したものを採用）:
//  1. 未認証の呼び出し元は常に拒否
//  2. Create と対象なしの ReadOwn は認証済みであれば許可
//  3. 管理者は全操作を許可
//  4. 管理者専用操作（ReadAny, UpdateStatus）は拒否
//  5. 対象の所有者が呼び出し元と一致する場合のみ許可
func CanAct(caller model.CallerIdentity, resource *model.VisaApplication, action Action) bool {
	if !caller.Authenticated() {
		return false
	}

	if action == ActionCreate || (resource == nil && action == ActionReadOwn) {
		return true
	}

	if caller.IsAdmin() {
		return true
	}

	if adminOnly[action] {
		return false
	}

	if resource == nil {
		return false
	}

	return resource.OwnerID == caller.UserID
}
