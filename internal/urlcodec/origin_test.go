package urlcodec_test

import (
	"testing"

	"hammerhead/internal/urlcodec"

	"github.com/stretchr/testify/assert"
)

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		name      string
		location  string
		candidate string
		want      bool
	}{
		{"自身", "https://origin.com/page", "https://origin.com/other", true},
		{"子域名", "https://origin.com", "https://sub.origin.com/x", true},
		{"父域名", "https://sub.origin.com", "https://origin.com/x", true},
		{"不同域名", "https://origin.com", "https://origin2.com", false},
		{"协议不同", "http://origin.com", "https://origin.com", false},
		{"端口不同", "https://origin.com", "https://origin.com:8443", false},
		{"显式默认端口", "https://origin.com:443/a", "https://origin.com/b", true},
		{"相对地址", "https://origin.com", "/path?x", true},
		{"协议相对地址", "https://origin.com", "//sub.origin.com/x", true},
		{"公共后缀不跨站", "https://a.github.io", "https://b.github.io", false},
		{"IP 完全一致", "http://127.0.0.1:8080", "http://127.0.0.1:8080/x", true},
		{"IP 不同", "http://127.0.0.1", "http://127.0.0.2", false},
		{"代理 URL 参数", "http://127.0.0.1:1337/o!s/https://origin.com/", "http://127.0.0.1:1337/o!s!i/https://www.origin.com/", true},
		{"代理 URL 跨域", "http://127.0.0.1:1337/o!s/https://origin.com/", "https://evil.com/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, urlcodec.SameOriginCheck(tt.location, tt.candidate))
		})
	}
}

func TestSameOriginReflexive(t *testing.T) {
	for _, u := range []string{"https://example.com", "http://localhost:3000/a", "ws://x.y.example.org:81/"} {
		assert.True(t, urlcodec.SameOriginCheck(u, u), u)
	}
}

func TestOriginString(t *testing.T) {
	o, ok := urlcodec.OriginOf("https://Example.com:443/path")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com", o.String())

	o, ok = urlcodec.OriginOf("http://example.com:8080/")
	assert.True(t, ok)
	assert.Equal(t, "http://example.com:8080", o.String())

	_, ok = urlcodec.OriginOf("/relative")
	assert.False(t, ok)
}
