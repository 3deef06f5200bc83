// Package urlcodec 负责目标地址与代理 URL 之间的编码与解码
//
// 代理 URL 格式：
//
//	http://{hostname}:{port}/{ownerToken}!{sessionId}[!{flags}[!{charset}]]/{destUrl}
//
// destUrl 位于路径最后，原样保留（包括查询串与片段）。
package urlcodec

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"hammerhead/pkg/errx"
)

const (
	segmentDelimiter = '!'
	proxyScheme      = "http"
)

var (
	schemeRe    = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.\-]*):`)
	slashesRe   = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.\-]*):[/\\]*`)
	idRe        = regexp.MustCompile(`^[A-Za-z0-9_\-]*$`)
	charsetRe   = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)
	stripCharsR = strings.NewReplacer("\t", "", "\r", "", "\n", "")
)

// 原样放行、不经过代理的协议
var passThroughSchemes = map[string]bool{
	"about":      true,
	"javascript": true,
	"mailto":     true,
	"data":       true,
	"blob":       true,
	"tel":        true,
	"sms":        true,
}

var supportedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
}

// Options 编码参数
type Options struct {
	ProxyHostname string
	ProxyPort     int
	SessionID     string
	OwnerToken    string
	ResourceType  ResourceType
	Charset       string
}

// ProxyURL 解码后的代理 URL
type ProxyURL struct {
	ProxyHostname string
	ProxyPort     int
	SessionID     string
	OwnerToken    string
	ResourceType  ResourceType
	Charset       string
	DestURL       string
	DestResource  DestResource
}

// DestResource 目标地址的组成部分
type DestResource struct {
	Protocol      string // 带冒号，例如 "https:"
	Hostname      string
	Host          string // hostname[:port]，端口仅在显式给出时出现
	Port          string
	PartAfterHost string // 路径、查询串与片段
}

// IsSupportedProtocol 是否为可代理的协议
func IsSupportedProtocol(rawURL string) bool {
	m := schemeRe.FindStringSubmatch(strings.TrimSpace(rawURL))
	return m != nil && supportedSchemes[strings.ToLower(m[1])]
}

// IsPassThrough 是否为无需代理的特殊地址（mailto:、javascript: 或仅包含片段）
func IsPassThrough(rawURL string) bool {
	s := strings.TrimSpace(stripCharsR.Replace(rawURL))
	if strings.HasPrefix(s, "#") {
		return true
	}
	m := schemeRe.FindStringSubmatch(s)
	return m != nil && passThroughSchemes[strings.ToLower(m[1])]
}

// Encode 将目标地址编码为代理 URL
//
// 若 destURL 已是同一代理主机下的代理 URL，先解码再合并资源类型与字符集后重新编码，不会嵌套。
func Encode(destURL string, opts Options) (string, error) {
	if IsPassThrough(destURL) {
		return destURL, nil
	}
	if err := validateOptions(opts); err != nil {
		return "", err
	}

	normalized, err := normalizeDest(destURL)
	if err != nil {
		return "", err
	}

	hostname := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(opts.ProxyHostname, "["), "]"))
	rt := opts.ResourceType
	charset := strings.ToLower(opts.Charset)
	if parsed := Decode(normalized); parsed != nil && parsed.ProxyHostname == hostname {
		if normalized, err = normalizeDest(parsed.DestURL); err != nil {
			return "", err
		}
		rt = parsed.ResourceType.Merge(rt)
		if charset == "" {
			charset = parsed.Charset
		}
	}

	return format(ProxyURL{
		ProxyHostname: hostname,
		ProxyPort:     opts.ProxyPort,
		SessionID:     opts.SessionID,
		OwnerToken:    opts.OwnerToken,
		ResourceType:  rt,
		Charset:       charset,
		DestURL:       normalized,
	}), nil
}

// Decode 解析代理 URL，不是代理 URL 时返回 nil
func Decode(proxyURL string) *ProxyURL {
	s := strings.TrimSpace(proxyURL)
	m := schemeRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	scheme := strings.ToLower(m[1])
	if scheme != "http" && scheme != "https" {
		return nil
	}
	rest := s[len(m[0]):]
	if !strings.HasPrefix(rest, "//") {
		return nil
	}
	rest = rest[2:]

	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return nil
	}
	hostname, port, ok := splitProxyHost(rest[:slash], scheme)
	if !ok {
		return nil
	}

	rest = rest[slash+1:]
	slash = strings.IndexByte(rest, '/')
	if slash <= 0 {
		return nil
	}
	info, dest := rest[:slash], rest[slash+1:]

	parts := strings.Split(info, string(segmentDelimiter))
	if len(parts) < 2 || len(parts) > 4 {
		return nil
	}
	owner, session := parts[0], parts[1]
	if session == "" || !idRe.MatchString(owner) || !idRe.MatchString(session) {
		return nil
	}

	var rt ResourceType
	if len(parts) >= 3 {
		if parts[2] == "" && len(parts) == 3 {
			return nil
		}
		if rt, ok = ParseResourceType(parts[2]); !ok {
			return nil
		}
	}
	var charset string
	if len(parts) == 4 {
		charset = parts[3]
		if !charsetRe.MatchString(charset) {
			return nil
		}
	}

	res, err := ParseDestResource(dest)
	if err != nil {
		return nil
	}

	return &ProxyURL{
		ProxyHostname: hostname,
		ProxyPort:     port,
		SessionID:     session,
		OwnerToken:    owner,
		ResourceType:  rt,
		Charset:       charset,
		DestURL:       dest,
		DestResource:  res,
	}
}

// IsProxyURL 是否为可解析的代理 URL
func IsProxyURL(s string) bool { return Decode(s) != nil }

// DestOf 若 s 为代理 URL 返回其目标地址，否则原样返回
func DestOf(s string) string {
	if p := Decode(s); p != nil {
		return p.DestURL
	}
	return s
}

// WithResourceType 替换代理 URL 中的资源类型，s 不是代理 URL 时原样返回
func WithResourceType(s string, rt ResourceType) string {
	p := Decode(s)
	if p == nil {
		return s
	}
	p.ResourceType = rt
	return format(*p)
}

// String 重新编码为代理 URL
func (p *ProxyURL) String() string { return format(*p) }

// Options 返回与该代理 URL 相同上下文的编码参数（不含资源类型与字符集）
func (p *ProxyURL) Options() Options {
	return Options{
		ProxyHostname: p.ProxyHostname,
		ProxyPort:     p.ProxyPort,
		SessionID:     p.SessionID,
		OwnerToken:    p.OwnerToken,
	}
}

// ParseDestResource 拆分目标地址
func ParseDestResource(dest string) (DestResource, error) {
	m := schemeRe.FindStringSubmatch(dest)
	if m == nil || !supportedSchemes[strings.ToLower(m[1])] {
		return DestResource{}, errx.Newf(errx.CodeUnsupportedProtocol, "unsupported destination %q", dest)
	}
	rest := dest[len(m[0]):]
	if !strings.HasPrefix(rest, "//") {
		return DestResource{}, errx.Newf(errx.CodeInvalidURL, "destination %q has no authority", dest)
	}
	rest = rest[2:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	authority := rest[:end]
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[at+1:]
	}
	if authority == "" {
		return DestResource{}, errx.Newf(errx.CodeInvalidURL, "destination %q has empty host", dest)
	}
	u := &url.URL{Host: authority}
	hostname, port := u.Hostname(), u.Port()
	if hostname == "" {
		return DestResource{}, errx.Newf(errx.CodeInvalidURL, "destination %q has empty host", dest)
	}
	if port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return DestResource{}, errx.Wrap(errx.CodeInvalidURL, err, "invalid destination port")
		}
	}
	return DestResource{
		Protocol:      strings.ToLower(m[1]) + ":",
		Hostname:      hostname,
		Host:          authority,
		Port:          port,
		PartAfterHost: rest[end:],
	}, nil
}

// normalizeDest 预处理目标地址：去除制表/换行符，折叠多余斜杠，小写协议与主机
func normalizeDest(raw string) (string, error) {
	s := strings.TrimSpace(stripCharsR.Replace(raw))
	if s == "" {
		return "", errx.New(errx.CodeInvalidURL, "empty destination url")
	}
	m := schemeRe.FindStringSubmatch(s)
	if m == nil {
		return "", errx.Newf(errx.CodeInvalidURL, "destination %q is not absolute", raw)
	}
	scheme := strings.ToLower(m[1])
	if !supportedSchemes[scheme] {
		return "", errx.Newf(errx.CodeUnsupportedProtocol, "unsupported protocol in %q", raw)
	}

	s = slashesRe.ReplaceAllLiteralString(s, scheme+"://")
	rest := s[len(scheme)+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	authority := rest[:end]
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[:at+1] + strings.ToLower(authority[at+1:])
	} else {
		authority = strings.ToLower(authority)
	}
	if authority == "" || strings.HasSuffix(authority, "@") {
		return "", errx.Newf(errx.CodeInvalidURL, "destination %q has empty host", raw)
	}
	return scheme + "://" + authority + rest[end:], nil
}

func validateOptions(opts Options) error {
	if opts.ProxyHostname == "" {
		return errx.New(errx.CodeInvalidURL, "proxy hostname is required")
	}
	if opts.ProxyPort <= 0 || opts.ProxyPort > 65535 {
		return errx.Newf(errx.CodeInvalidURL, "invalid proxy port %d", opts.ProxyPort)
	}
	if opts.SessionID == "" || !idRe.MatchString(opts.SessionID) {
		return errx.Newf(errx.CodeInvalidURL, "invalid session id %q", opts.SessionID)
	}
	if !idRe.MatchString(opts.OwnerToken) {
		return errx.Newf(errx.CodeInvalidURL, "invalid owner token %q", opts.OwnerToken)
	}
	if opts.Charset != "" && !charsetRe.MatchString(opts.Charset) {
		return errx.Newf(errx.CodeInvalidURL, "invalid charset %q", opts.Charset)
	}
	return nil
}

func format(p ProxyURL) string {
	var b strings.Builder
	b.Grow(len(p.DestURL) + 64)
	b.WriteString(proxyScheme)
	b.WriteString("://")
	// IPv6 地址需加方括号
	b.WriteString(net.JoinHostPort(p.ProxyHostname, strconv.Itoa(p.ProxyPort)))
	b.WriteByte('/')
	b.WriteString(p.OwnerToken)
	b.WriteByte(segmentDelimiter)
	b.WriteString(p.SessionID)

	flags := p.ResourceType.String()
	if flags != "" || p.Charset != "" {
		b.WriteByte(segmentDelimiter)
		b.WriteString(flags)
	}
	if p.Charset != "" {
		b.WriteByte(segmentDelimiter)
		b.WriteString(p.Charset)
	}
	b.WriteByte('/')
	b.WriteString(p.DestURL)
	return b.String()
}

func splitProxyHost(hostport, scheme string) (string, int, bool) {
	u := &url.URL{Host: hostport}
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", 0, false
	}
	portStr := u.Port()
	if portStr == "" {
		if scheme == "https" {
			return hostname, 443, true
		}
		return hostname, 80, true
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, false
	}
	return hostname, port, true
}
