// Package model はドメインモデルを定義する。
package model

import "time"

// VisaStatus はビザ申請の審査状態を表す。
type VisaStatus string

const (
	// VisaStatusSubmitted は申請直後の状態。新規作成時の既定値。
	VisaStatusSubmitted VisaStatus = "Submitted"
	// VisaStatusProcessing は審査中の状態。
	VisaStatusProcessing VisaStatus = "Processing"
	// VisaStatusApproved は承認済みの状態。
	VisaStatusApproved VisaStatus = "Approved"
	// VisaStatusRejected は却下された状態。
	VisaStatusRejected VisaStatus = "Rejected"
	// VisaStatusRequiresAction は申請者の対応待ちの状態。
	VisaStatusRequiresAction VisaStatus = "Requires Action"
)

// Document は申請に添付された書類への参照を表す。
// 書類本体の保存は外部ストレージの責務であり、ここでは名前と保存先URLのみを持つ。
type Document struct {
	Name string
	URL  string
}

// VisaApplication はビザ申請レコードを表す。
// ID と OwnerID は作成時に一度だけ設定され、以後変更されない。
type VisaApplication struct {
	ID                 string
	OwnerID            string
	DestinationCountry string
	VisaType           string
	ApplicationDate    time.Time
	Status             VisaStatus
	Documents          []Document
	Notes              string
	// Revision は楽観的排他制御に用いる版番号。永続化のたびにストアが加算する。
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone はドキュメントスライスを含めたディープコピーを返す。
// ライフサイクル処理は読み込んだスナップショットを書き換えずにコピーへ適用する。
func (a *VisaApplication) Clone() *VisaApplication {
	if a == nil {
		return nil
	}
	c := *a
	if a.Documents != nil {
		c.Documents = make([]Document, len(a.Documents))
		copy(c.Documents, a.Documents)
	}
	return &c
}

// VisaApplicationWithOwner は管理者一覧向けに申請者の表示情報を付与したモデル。
type VisaApplicationWithOwner struct {
	VisaApplication
	Owner *OwnerSummary
}

// VisaSubmission は新規申請の入力値。
// ステータスや申請者IDなどサーバー側で決定する項目は含まない。
type VisaSubmission struct {
	DestinationCountry string
	VisaType           string
	Documents          []Document
	Notes              string
}

// VisaPatch は申請の部分更新を表す。
// nilフィールドは変更せず、既存の値を維持する。
// ステータス・申請者ID・IDは部分更新の対象外。
type VisaPatch struct {
	DestinationCountry *string
	VisaType           *string
	Documents          *[]Document
	Notes              *string
}

// IsEmpty はパッチに変更対象のフィールドが1つも含まれないかを返す。
func (p VisaPatch) IsEmpty() bool {
	return p.DestinationCountry == nil && p.VisaType == nil && p.Documents == nil && p.Notes == nil
}
