package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/samber/lo"

	"github.com/hitoshi/socialfeed/internal/model"
)

// URLGuard は外部URLの安全性検証機能のインターフェースを定義する。
// プロフィールのアバターURL保存時と、Giphy等の外部API呼び出し時に使用される。
type URLGuard interface {
	// ValidateURL はURLの安全性を静的に検証する。
	// 危険なURLの場合は INVALID_URL の APIError を返す。
	ValidateURL(rawURL string) error

	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// DNS解決後のIPアドレスも safeurl の Dialer フックで検証される。
	NewSafeClient(timeout time.Duration) *http.Client
}

// allowedSchemes は許可されるURLスキーム。
// アバター画像はブラウザからそのまま読み込まれるため、混在コンテンツになる http は許可しない。
var allowedSchemes = []string{"https"}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

// blockedPrefixes はブロック対象のネットワーク範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル（169.254.169.254 のメタデータを含む）
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// urlGuard はURLGuardの実装。
type urlGuard struct{}

// NewURLGuard はURLGuardの新しいインスタンスを生成する。
func NewURLGuard() *urlGuard {
	return &urlGuard{}
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証なので、DNS再バインディングは NewSafeClient 側で防ぐ。
func (g *urlGuard) ValidateURL(rawURL string) error {
	if err := validateURL(rawURL); err != nil {
		return model.NewInvalidURLError(err.Error())
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !lo.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lo.Contains(blockedHostnames, lower) || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// isBlockedAddr はIPアドレスがブロック対象の範囲に含まれるかを返す。
// IPv4射影IPv6アドレスはIPv4として判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return lo.ContainsBy(blockedPrefixes, func(p netip.Prefix) bool {
		return p.Contains(addr)
	})
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurl のデフォルト設定でプライベート・ループバック・リンクローカルへの接続が遮断される。
func (g *urlGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}
