// Package cookie 实现会话级 Cookie 存储
//
// Cookie 以 domain+path+name 为键保存。域名按后缀匹配，路径按前缀匹配（RFC 6265）。
// 单个 Jar 内部持有互斥锁，同一会话的并发请求可以安全读写。
package cookie

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hammerhead/pkg/errx"

	"golang.org/x/net/publicsuffix"
)

// SameSite 取值
const (
	SameSiteNone   = "none"
	SameSiteLax    = "lax"
	SameSiteStrict = "strict"
)

// Cookie 描述一个 Cookie
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	MaxAge   int       `json:"maxAge,omitempty"` // 0 未设置，负数表示立即过期
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
	SameSite string    `json:"sameSite,omitempty"`
	HostOnly bool      `json:"hostOnly,omitempty"`
	Created  time.Time `json:"created,omitempty"`
}

// Filter 查询条件，空字段表示不限制
type Filter struct {
	Name   string `json:"name,omitempty"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// MalformedCookieError 单个 Cookie 校验失败
type MalformedCookieError struct {
	Cookie Cookie
	Reason string
}

func (e *MalformedCookieError) Error() string {
	return fmt.Sprintf("malformed cookie %q: %s", e.Cookie.Name, e.Reason)
}

func (e *MalformedCookieError) Unwrap() error {
	return errx.New(errx.CodeMalformedCookie, e.Reason)
}

// String 返回 name=value 形式
func (c Cookie) String() string { return c.Name + "=" + c.Value }

func (c *Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

func (c *Cookie) key() string {
	return c.Domain + ";" + c.Path + ";" + c.Name
}

// matchesFilter 过滤器中给出的所有字段都必须匹配
func (c *Cookie) matchesFilter(f Filter) bool {
	if f.Name != "" && f.Name != c.Name {
		return false
	}
	if f.Domain != "" && normalizeDomain(f.Domain) != c.Domain {
		return false
	}
	if f.Path != "" && f.Path != c.Path {
		return false
	}
	return true
}

// matchesURL 该 Cookie 是否会随请求发往 u
func (c *Cookie) matchesURL(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if c.HostOnly {
		if host != c.Domain {
			return false
		}
	} else if !domainMatch(host, c.Domain) {
		return false
	}
	if !pathMatch(requestPath(u), c.Path) {
		return false
	}
	if c.Secure {
		s := strings.ToLower(u.Scheme)
		if s != "https" && s != "wss" {
			return false
		}
	}
	return true
}

// FromHTTP 转换 net/http 解析出的 Cookie
func FromHTTP(hc *http.Cookie) Cookie {
	c := Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   hc.Domain,
		Path:     hc.Path,
		Expires:  hc.Expires,
		MaxAge:   hc.MaxAge,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
	}
	switch hc.SameSite {
	case http.SameSiteLaxMode:
		c.SameSite = SameSiteLax
	case http.SameSiteStrictMode:
		c.SameSite = SameSiteStrict
	case http.SameSiteNoneMode:
		c.SameSite = SameSiteNone
	}
	return c
}

func normalizeDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
}

func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	if net.ParseIP(host) != nil {
		return false
	}
	return strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

func requestPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// defaultPath RFC 6265 5.1.4
func defaultPath(u *url.URL) string {
	p := u.Path
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// isPublicSuffix 域名本身是否为公共后缀（如 com、co.uk、github.io）
func isPublicSuffix(domain string) bool {
	if net.ParseIP(domain) != nil {
		return false
	}
	ps, _ := publicsuffix.PublicSuffix(domain)
	return ps == domain
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte("()<>@,;:\\\"/[]?={}", c) >= 0 {
			return false
		}
	}
	return true
}

func validValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < ' ' || c == 0x7f || c == ';' {
			return false
		}
	}
	return true
}
