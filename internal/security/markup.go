// Package security は申請入力の検査機能を提供する。
//
// 備考や書類名はプレーンテキストとしてそのまま保存し、JSONとして返却する。
// 書き換えは行わず、HTMLタグを含む入力は呼び出し側で検証エラーとして扱う。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupDetector は自由入力テキストにHTMLマークアップが含まれるかを判定する。
type MarkupDetector interface {
	// ContainsMarkup はタグとして解釈される部分を含む場合にtrueを返す。
	// 単独の < や > 、&amp; などの文字参照はマークアップとみなさない。
	ContainsMarkup(text string) bool
}

type markupDetector struct {
	policy *bluemonday.Policy
}

// NewMarkupDetector はbluemondayのStrictPolicyで判定するMarkupDetectorを生成する。
func NewMarkupDetector() *markupDetector {
	return &markupDetector{policy: bluemonday.StrictPolicy()}
}

// ContainsMarkup はStrictPolicyでタグを除去した結果と元の文字列を、
// 文字参照をデコードした状態で比較する。差分があればタグが除去されたことを意味する。
func (d *markupDetector) ContainsMarkup(text string) bool {
	if text == "" {
		return false
	}
	return html.UnescapeString(d.policy.Sanitize(text)) != html.UnescapeString(text)
}
