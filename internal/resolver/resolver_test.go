package resolver_test

import (
	"testing"

	"hammerhead/internal/resolver"
	"hammerhead/pkg/errx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r, err := resolver.New("https://example.com/dir/page.html?q=1")
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"img.png", "https://example.com/dir/img.png"},
		{"/root.js", "https://example.com/root.js"},
		{"../up", "https://example.com/up"},
		{"?x=2", "https://example.com/dir/page.html?x=2"},
		{"//cdn.example.net/lib.js", "https://cdn.example.net/lib.js"},
		{"http://other.com/a", "http://other.com/a"},
		{"  sp\nli\tt.css\r ", "https://example.com/dir/split.css"},
		{"http://127.0.0.1:1337/o!s!s/https://x.com/a.js", "https://x.com/a.js"},
		{"mailto:a@b.c", "mailto:a@b.c"},
		{"#frag", "#frag"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestUpdateBase(t *testing.T) {
	r, err := resolver.New("http://127.0.0.1:1337/o!s/https://example.com/dir/page.html")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/dir/page.html", r.Document())

	require.NoError(t, r.UpdateBase("/assets/"))
	assert.Equal(t, "https://example.com/assets/", r.Base())

	got, err := r.Resolve("app.js")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/assets/app.js", got)

	require.NoError(t, r.UpdateBase("https://static.example.org/v2/"))
	got, _ = r.Resolve("x.css")
	assert.Equal(t, "https://static.example.org/v2/x.css", got)

	require.NoError(t, r.UpdateBase(""))
	got, _ = r.Resolve("app.js")
	assert.Equal(t, "https://example.com/dir/app.js", got)
}

func TestResolveAsOrigin(t *testing.T) {
	r, err := resolver.New("https://example.com:8443/deep/path/page")
	require.NoError(t, err)
	require.NoError(t, r.UpdateBase("https://cdn.com/base/"))

	assert.Equal(t, "https://example.com:8443/api", r.ResolveAsOrigin("api"))
	assert.Equal(t, "https://example.com:8443/x?y", r.ResolveAsOrigin("/x?y"))
	assert.Equal(t, "javascript:void(0)", r.ResolveAsOrigin("javascript:void(0)"))
}

func TestNewInvalid(t *testing.T) {
	_, err := resolver.New("/relative")
	assert.True(t, errx.Is(err, errx.CodeInvalidURL))
}

func TestIframeKind(t *testing.T) {
	top := "https://origin.com/index.html"
	tests := []struct {
		src  string
		want resolver.IframeKind
	}{
		{"", resolver.IframeNoSrc},
		{"about:blank", resolver.IframeNoSrc},
		{"ABOUT:BLANK", resolver.IframeNoSrc},
		{"javascript:''", resolver.IframeNoSrc},
		{"https://origin.com/frame", resolver.IframeSameDomain},
		{"https://sub.origin.com/frame", resolver.IframeSameDomain},
		{"/relative/frame", resolver.IframeSameDomain},
		{"https://other.com/frame", resolver.IframeCrossDomain},
		{"http://origin.com/frame", resolver.IframeCrossDomain},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolver.IframeKindOf(tt.src, top), tt.src)
	}

	r, err := resolver.New("https://origin.com/a/b")
	require.NoError(t, err)
	assert.Equal(t, resolver.IframeSameDomain, r.IframeKind("frame.html", top))
	assert.Equal(t, resolver.IframeCrossDomain, r.IframeKind("//evil.com/", top))
	assert.Equal(t, "cross-domain", resolver.IframeCrossDomain.String())
}
