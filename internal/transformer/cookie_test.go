package transformer_test

import (
	"testing"

	"hammerhead/internal/transformer"
)

func TestParseCookies(t *testing.T) {
	tests := []struct {
		name      string
		cookieStr string
		wantLen   int
	}{
		{"单个cookie", "name=test", 1},
		{"多个cookie", "name=test; age=18", 2},
		{"值中含等号", "token=a=b", 1},
		{"无效片段", "novalue; =x; a=1", 1},
		{"空字符串", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transformer.ParseCookies(tt.cookieStr)
			if len(got) != tt.wantLen {
				t.Errorf("got len %v, want len %v", len(got), tt.wantLen)
			}
		})
	}

	if v := transformer.ParseCookies("token=a=b")["token"]; v != "a=b" {
		t.Errorf("token = %q, want a=b", v)
	}
}

func TestBuildCookieString(t *testing.T) {
	tests := []struct {
		name    string
		cookies map[string]string
		want    string
	}{
		{"空map", map[string]string{}, ""},
		{"单个cookie", map[string]string{"name": "test"}, "name=test"},
		{"按名称排序", map[string]string{"b": "2", "a": "1", "c": "3"}, "a=1; b=2; c=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transformer.BuildCookieString(tt.cookies)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBinaryContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"image/png", true},
		{"video/mp4", true},
		{"audio/mpeg", true},
		{"font/woff2", true},
		{"application/pdf", true},
		{"text/html; charset=utf-8", false},
		{"application/json", false},
		{"application/octet-stream", true},
		{"IMAGE/PNG", true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got := transformer.IsBinaryContentType(tt.contentType)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
