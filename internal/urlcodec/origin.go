package urlcodec

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// Origin 协议、主机与有效端口
type Origin struct {
	Scheme   string
	Hostname string
	Port     string
}

// String 返回 scheme://host[:port]，默认端口省略
func (o Origin) String() string {
	host := o.Hostname
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if o.Port != "" && o.Port != defaultPorts[o.Scheme] {
		host = net.JoinHostPort(o.Hostname, o.Port)
	}
	return o.Scheme + "://" + host
}

// OriginOf 解析地址（可以是代理 URL）的源，非绝对地址返回 false
func OriginOf(rawURL string) (Origin, bool) {
	u, err := url.Parse(DestOf(strings.TrimSpace(rawURL)))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Origin{}, false
	}
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	return Origin{Scheme: scheme, Hostname: strings.ToLower(u.Hostname()), Port: port}, true
}

// SameOriginCheck 判断 candidate 是否与 location 同源
//
// 两个参数都可以是代理 URL。协议与有效端口必须完全一致；
// 主机按可注册域名（eTLD+1）比较，子域名视为同源。相对地址视为同源。
func SameOriginCheck(location, candidate string) bool {
	loc, ok := OriginOf(location)
	if !ok {
		return false
	}

	c := strings.TrimSpace(DestOf(candidate))
	if strings.HasPrefix(c, "//") {
		c = loc.Scheme + ":" + c
	} else if !schemeRe.MatchString(c) {
		return true
	}
	cand, ok := OriginOf(c)
	if !ok {
		return false
	}

	if loc.Scheme != cand.Scheme || loc.Port != cand.Port {
		return false
	}
	if loc.Hostname == cand.Hostname {
		return true
	}
	a, errA := registrableDomain(loc.Hostname)
	b, errB := registrableDomain(cand.Hostname)
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

// registrableDomain 返回主机的可注册域名，IP 与单标签主机返回错误
func registrableDomain(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return "", &net.AddrError{Err: "ip address has no registrable domain", Addr: host}
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}
