package transformer

import (
	"sort"
	"strings"
)

// ParseCookies 解析 Cookie 请求头为映射
func ParseCookies(cookieStr string) map[string]string {
	cookies := make(map[string]string)
	if cookieStr == "" {
		return cookies
	}

	parts := strings.Split(cookieStr, ";")
	for _, part := range parts {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			cookies[kv[0]] = kv[1]
		}
	}
	return cookies
}

// BuildCookieString 将映射重新构建为 Cookie 请求头，按名称排序
func BuildCookieString(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for k := range cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+cookies[k])
	}
	return strings.Join(parts, "; ")
}

// IsBinaryContentType 判断是否为二进制内容类型
func IsBinaryContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	binaryPrefixes := []string{"image/", "video/", "audio/", "application/octet-stream", "font/", "application/zip", "application/pdf"}
	for _, prefix := range binaryPrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}
