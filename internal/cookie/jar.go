package cookie

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Jar 会话 Cookie 存储
type Jar struct {
	mu      sync.Mutex
	entries map[string]*Cookie
	now     func() time.Time
}

// NewJar 创建空的 Cookie 存储
func NewJar() *Jar {
	return &Jar{
		entries: make(map[string]*Cookie),
		now:     time.Now,
	}
}

// SetCookies 批量写入 Cookie
//
// rawURL 为写入上下文（可为空，此时每个 Cookie 必须给出 Domain）。
// 非法 Cookie 被跳过并以 *MalformedCookieError 汇总返回，其余 Cookie 照常写入。
func (j *Jar) SetCookies(cookies []Cookie, rawURL string) error {
	var u *url.URL
	if rawURL != "" {
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Host == "" {
			errs := make([]error, 0, len(cookies))
			for _, c := range cookies {
				errs = append(errs, &MalformedCookieError{Cookie: c, Reason: "invalid url " + rawURL})
			}
			return errors.Join(errs...)
		}
		u = parsed
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	var errs []error
	for _, c := range cookies {
		nc, err := j.normalize(c, u, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := nc.key()
		if nc.expired(now) {
			delete(j.entries, key)
			continue
		}
		if old, ok := j.entries[key]; ok {
			nc.Created = old.Created
		}
		j.entries[key] = nc
	}
	j.purge(now)
	return errors.Join(errs...)
}

// SetFromResponse 解析响应中的 Set-Cookie 并写入
func (j *Jar) SetFromResponse(header http.Header, rawURL string) error {
	parsed := (&http.Response{Header: header}).Cookies()
	if len(parsed) == 0 {
		return nil
	}
	cookies := make([]Cookie, 0, len(parsed))
	for _, hc := range parsed {
		cookies = append(cookies, FromHTTP(hc))
	}
	return j.SetCookies(cookies, rawURL)
}

// GetCookies 查询 Cookie
//
// filters 为空表示不按属性过滤；非空时满足任一过滤器即可。
// urls 非空时只返回会随其中任一地址发送的 Cookie。结果按域名、路径、名称排序。
func (j *Jar) GetCookies(filters []Filter, urls []string) []Cookie {
	parsed := parseURLs(urls)
	if len(urls) > 0 && len(parsed) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	var out []Cookie
	for _, c := range j.entries {
		if c.expired(now) || !selected(c, filters, parsed) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		if out[a].Path != out[b].Path {
			return out[a].Path < out[b].Path
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// DeleteCookies 删除匹配的 Cookie，返回删除数量；filters 与 urls 都为空时清空
func (j *Jar) DeleteCookies(filters []Filter, urls []string) int {
	parsed := parseURLs(urls)
	if len(urls) > 0 && len(parsed) == 0 {
		return 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	n := 0
	for k, c := range j.entries {
		if selected(c, filters, parsed) {
			delete(j.entries, k)
			n++
		}
	}
	return n
}

// CookieHeader 生成发往 rawURL 的 Cookie 请求头，路径更长者优先
func (j *Jar) CookieHeader(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	j.mu.Lock()
	now := j.now()
	var matched []*Cookie
	for _, c := range j.entries {
		if !c.expired(now) && c.matchesURL(u) {
			cp := *c
			matched = append(matched, &cp)
		}
	}
	j.mu.Unlock()

	sort.Slice(matched, func(a, b int) bool {
		if len(matched[a].Path) != len(matched[b].Path) {
			return len(matched[a].Path) > len(matched[b].Path)
		}
		if !matched[a].Created.Equal(matched[b].Created) {
			return matched[a].Created.Before(matched[b].Created)
		}
		return matched[a].Name < matched[b].Name
	})
	parts := make([]string, 0, len(matched))
	for _, c := range matched {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "; ")
}

// Len 返回有效 Cookie 数量
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.purge(j.now())
	return len(j.entries)
}

// normalize 校验并补全 Cookie 属性，调用方持有锁
func (j *Jar) normalize(c Cookie, u *url.URL, now time.Time) (*Cookie, error) {
	bad := func(reason string) (*Cookie, error) {
		return nil, &MalformedCookieError{Cookie: c, Reason: reason}
	}

	if !validName(c.Name) {
		return bad("invalid name")
	}
	if !validValue(c.Value) {
		return bad("invalid value")
	}

	nc := c
	nc.Domain = normalizeDomain(c.Domain)
	var host string
	if u != nil {
		host = strings.ToLower(u.Hostname())
	}

	switch {
	case nc.Domain == "" && host == "":
		return bad("domain is required without url")
	case nc.Domain == "":
		nc.Domain = host
		nc.HostOnly = true
	case host != "":
		if isPublicSuffix(nc.Domain) {
			if nc.Domain != host {
				return bad("domain is a public suffix")
			}
			nc.HostOnly = true
		} else if !domainMatch(host, nc.Domain) {
			return bad("domain " + nc.Domain + " does not match " + host)
		}
	default:
		if isPublicSuffix(nc.Domain) {
			return bad("domain is a public suffix")
		}
	}

	if nc.Path == "" || nc.Path[0] != '/' {
		if u != nil {
			nc.Path = defaultPath(u)
		} else {
			nc.Path = "/"
		}
	}

	switch strings.ToLower(nc.SameSite) {
	case "":
		nc.SameSite = SameSiteNone
	case SameSiteNone, SameSiteLax, SameSiteStrict:
		nc.SameSite = strings.ToLower(nc.SameSite)
	default:
		return bad("invalid sameSite " + c.SameSite)
	}

	switch {
	case nc.MaxAge < 0:
		nc.Expires = time.Unix(1, 0)
	case nc.MaxAge > 0:
		nc.Expires = now.Add(time.Duration(nc.MaxAge) * time.Second)
	}
	if nc.Created.IsZero() {
		nc.Created = now
	}
	return &nc, nil
}

// purge 清理过期 Cookie，调用方持有锁
func (j *Jar) purge(now time.Time) {
	for k, c := range j.entries {
		if c.expired(now) {
			delete(j.entries, k)
		}
	}
}

func selected(c *Cookie, filters []Filter, urls []*url.URL) bool {
	if len(filters) > 0 {
		ok := false
		for _, f := range filters {
			if c.matchesFilter(f) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(urls) > 0 {
		for _, u := range urls {
			if c.matchesURL(u) {
				return true
			}
		}
		return false
	}
	return true
}

func parseURLs(urls []string) []*url.URL {
	out := make([]*url.URL, 0, len(urls))
	for _, raw := range urls {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			out = append(out, u)
		}
	}
	return out
}
