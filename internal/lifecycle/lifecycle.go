// Package lifecycle はビザ申請のステータス遷移と項目更新の適用を提供する。
//
// 項目更新（渡航先国・ビザ種別・書類・備考）とステータス決定は権限の重みが異なるため、
// 別々の関数として扱う。ステータスは管理者の決定経路でのみ変更され、
// 項目更新の経路ではステータスに一切触れない。
//
// どの関数も読み込んだスナップショットを変更せず、適用後のコピーを返す。
package lifecycle

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/visadesk/internal/model"
)

// MaxFieldLength は渡航先国とビザ種別の最大文字数。
const MaxFieldLength = 255

// statuses は定義済みステータスの一覧。遷移先に制約はなく、任意の状態から任意の状態へ移れる。
var statuses = []model.VisaStatus{
	model.VisaStatusSubmitted,
	model.VisaStatusProcessing,
	model.VisaStatusApproved,
	model.VisaStatusRejected,
	model.VisaStatusRequiresAction,
}

// IsValidStatus はステータスが定義済みの値かを返す。
func IsValidStatus(s model.VisaStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus は文字列を定義済みステータスに変換する。
// 未定義の値は既定値に丸めず、検証エラーを返す。
func ParseStatus(raw string) (model.VisaStatus, error) {
	s := model.VisaStatus(raw)
	if !IsValidStatus(s) {
		return "", model.NewInvalidStatusError(raw)
	}
	return s, nil
}

// NewApplication は新規申請を組み立てる。
// 申請者は呼び出し元、ステータスは Submitted に固定される。
// 渡航先国とビザ種別は前後の空白を除去した上で空であれば検証エラーとする。
// IDの採番と永続化は呼び出し側の責務。
func NewApplication(caller model.CallerIdentity, sub model.VisaSubmission, now time.Time) (*model.VisaApplication, error) {
	country := strings.TrimSpace(sub.DestinationCountry)
	visaType := strings.TrimSpace(sub.VisaType)
	if country == "" || visaType == "" {
		return nil, model.NewMissingRequiredFieldsError()
	}
	if err := checkLength("渡航先国", country); err != nil {
		return nil, err
	}
	if err := checkLength("ビザ種別", visaType); err != nil {
		return nil, err
	}

	docs := make([]model.Document, len(sub.Documents))
	copy(docs, sub.Documents)

	return &model.VisaApplication{
		OwnerID:            caller.UserID,
		DestinationCountry: country,
		VisaType:           visaType,
		ApplicationDate:    now,
		Status:             model.VisaStatusSubmitted,
		Documents:          docs,
		Notes:              strings.TrimSpace(sub.Notes),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// ApplyFields はパッチに含まれる項目だけを反映したコピーを返す。
// パッチに含まれない項目は現在値を維持する（空値で上書きしない）。
// 渡航先国とビザ種別を空にする更新は検証エラーとする。備考は空文字列での消去を許可する。
// ID・申請者・ステータスは変更しない。
func ApplyFields(current *model.VisaApplication, patch model.VisaPatch) (*model.VisaApplication, error) {
	next := current.Clone()

	if patch.DestinationCountry != nil {
		v := strings.TrimSpace(*patch.DestinationCountry)
		if v == "" {
			return nil, model.NewValidationError("渡航先国を空にすることはできません。")
		}
		if err := checkLength("渡航先国", v); err != nil {
			return nil, err
		}
		next.DestinationCountry = v
	}

	if patch.VisaType != nil {
		v := strings.TrimSpace(*patch.VisaType)
		if v == "" {
			return nil, model.NewValidationError("ビザ種別を空にすることはできません。")
		}
		if err := checkLength("ビザ種別", v); err != nil {
			return nil, err
		}
		next.VisaType = v
	}

	if patch.Documents != nil {
		docs := make([]model.Document, len(*patch.Documents))
		copy(docs, *patch.Documents)
		next.Documents = docs
	}

	if patch.Notes != nil {
		next.Notes = strings.TrimSpace(*patch.Notes)
	}

	return next, nil
}

// ApplyDecision は審査ステータスの決定を適用したコピーを返す。
// 呼び出し元が管理者であることの確認は policy.CanAct で済ませておくこと。
func ApplyDecision(current *model.VisaApplication, rawStatus string) (*model.VisaApplication, error) {
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	next.Status = status
	return next, nil
}

func checkLength(field, v string) error {
	if utf8.RuneCountInString(v) > MaxFieldLength {
		return model.NewValidationError(fmt.Sprintf("%sは%d文字以内で入力してください。", field, MaxFieldLength))
	}
	return nil
}
