package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// MaxDocumentURLLength は書類URLの最大長。
const MaxDocumentURLLength = 2048

// DocumentURLValidator は申請に添付する書類参照URLを検証する。
// 書類本体は外部ストレージにあり、申請にはURLの文字列だけを保存する。
// サーバーはこのURLへアクセスしない。
type DocumentURLValidator interface {
	// ValidateURL は書類参照として保存できるURLかを返す。
	ValidateURL(rawURL string) error
}

type documentURLValidator struct{}

// NewDocumentURLValidator はDocumentURLValidatorを生成する。
func NewDocumentURLValidator() *documentURLValidator {
	return &documentURLValidator{}
}

// ValidateURL は http/https の絶対URLで、かつ利用者の端末や社内網を指していないことを確認する。
// 管理者が一覧から書類を開くため、他の利用者の環境でしか解決しない参照は保存させない。
// DNS解決は行わない。
func (v *documentURLValidator) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty document URL")
	}
	if len(rawURL) > MaxDocumentURLLength {
		return fmt.Errorf("document URL exceeds %d bytes", MaxDocumentURLLength)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid document URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("document URL must be http or https: %q", u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return errors.New("document URL has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("document URL points to a local host: %s", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil && !isPublicAddr(addr) {
		return fmt.Errorf("document URL points to a non-public address: %s", addr)
	}
	return nil
}

// thisNetwork は 0.0.0.0/8 。netipの分類関数では判定できない。
var thisNetwork = netip.MustParsePrefix("0.0.0.0/8")

// isPublicAddr はアドレスがインターネット上で到達可能な範囲かを返す。
// IPv4射影アドレスはIPv4として判定する。
func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsUnspecified(),
		thisNetwork.Contains(addr):
		return false
	}
	return true
}
