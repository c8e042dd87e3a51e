// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, visa, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrorKind は失敗の種別。トランスポート層はメッセージ文字列ではなく種別でレスポンスを選ぶ。
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindForbidden       ErrorKind = "forbidden"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindConflict        ErrorKind = "conflict"
	KindRateLimited     ErrorKind = "rate_limited"
	KindInternal        ErrorKind = "internal"
)

// KindOf はエラーチェーンから失敗の種別を取り出す。
// APIError を含まないエラーは KindInternal、nil は KindNone を返す。
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return KindInternal
	}
	switch apiErr.Code {
	case ErrCodeValidation, ErrCodeInvalidRequest:
		return KindValidation
	case ErrCodeNotFound:
		return KindNotFound
	case ErrCodeForbidden:
		return KindForbidden
	case ErrCodeUnauthenticated:
		return KindUnauthenticated
	case ErrCodeConflict:
		return KindConflict
	case ErrCodeRateLimited:
		return KindRateLimited
	default:
		return KindInternal
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認して再度送信してください。",
	}
}

// NewMissingRequiredFieldsError は渡航先国とビザ種別の未入力エラーを生成する。
func NewMissingRequiredFieldsError() *APIError {
	return NewValidationError("渡航先国とビザ種別は必須です。")
}

// NewInvalidStatusError は未定義のステータス値に対するエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("無効なステータスです: %q", status),
		Category: "validation",
		Action:   "ステータスには Submitted、Processing、Approved、Rejected、Requires Action のいずれかを指定してください。",
	}
}

// NewVisaApplicationNotFoundError は申請未検出エラーを生成する。
func NewVisaApplicationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された申請が見つかりません: %s", id),
		Category: "visa",
		Action:   "申請IDを確認してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// operationには拒否された操作名（閲覧、更新、削除 等）を指定する。
func NewForbiddenError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この申請を%sする権限がありません。", operation),
		Category: "auth",
		Action:   "申請者本人または管理者のアカウントで操作してください。",
	}
}

// NewAdminOnlyError は管理者専用操作に対する権限不足エラーを生成する。
func NewAdminOnlyError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作は管理者のみ実行できます。",
		Category: "auth",
		Action:   "管理者アカウントで操作してください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewConflictError は同一申請への同時更新で競合した場合のエラーを生成する。
func NewConflictError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("申請が他の操作によって更新されました: %s", id),
		Category: "visa",
		Action:   "最新の申請内容を取得してから再度更新してください。",
	}
}

// NewInvalidRequestError はリクエストボディを解釈できない場合のエラー。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitedError はレート制限超過のエラー。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は詳細を利用者に見せない内部エラー。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
