package rewriter_test

import (
	"strings"
	"testing"

	"hammerhead/internal/classifier"
	"hammerhead/internal/rewriter"
	"hammerhead/pkg/domain"

	"github.com/stretchr/testify/assert"
)

// fakeContext 以 "P[flags]:" 前缀标记改写结果
type fakeContext struct {
	bases []string
	els   []classifier.Element
}

func (c *fakeContext) EncodeURL(raw string, el classifier.Element) string {
	if strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "#") {
		return raw
	}
	c.els = append(c.els, el)
	return "P[" + classifier.Classify(el, classifier.DocumentContext{}).String() + "]:" + raw
}

func (c *fakeContext) UpdateBase(href string) { c.bases = append(c.bases, href) }

func TestRewriteHTML(t *testing.T) {
	in := `<!DOCTYPE html><html><head><base href="/b/" target="content">` +
		`<link rel="stylesheet" href="s.css"><script src="a.js"></script>` +
		`<style>body{background:url('bg.png')}</style></head>` +
		`<body><a href="x.html">x</a><a href="y.html" target="_blank">y</a>` +
		`<img src="i.png" srcset="i1.png 1x, i2.png 2x" alt="A &amp; B">` +
		`<form action="/submit"></form><iframe src="f.html"></iframe>` +
		`<div style="background-image:url(d.png)">text &amp; more</div>` +
		`<a href="#top">top</a><img src="data:image/png;base64,AAA"></body></html>`

	ctx := &fakeContext{}
	out := rewriter.New().RewriteURLs(in, domain.ResourceTypePage, ctx)

	for _, want := range []string{
		`<base href="P[]:/b/" target="content">`,
		`<link rel="stylesheet" href="P[]:s.css">`,
		`<script src="P[s]:a.js"></script>`,
		`url('P[]:bg.png')`,
		`<a href="P[]:x.html">x</a>`,
		`<a href="P[]:y.html" target="_blank">y</a>`,
		`srcset="P[]:i1.png 1x, P[]:i2.png 2x"`,
		`alt="A &amp; B"`,
		`<form action="P[f]:/submit">`,
		`<iframe src="P[i]:f.html">`,
		`style="background-image:url(P[]:d.png)"`,
		`text &amp; more`,
		`<a href="#top">top</a>`,
		`<img src="data:image/png;base64,AAA">`,
		`<!DOCTYPE html>`,
	} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, []string{"/b/"}, ctx.bases)

	var anchorBase string
	for _, el := range ctx.els {
		if el.TagName == "a" {
			anchorBase = el.BaseTarget
			break
		}
	}
	assert.Equal(t, "content", anchorBase, "链接应继承 <base target>")
}

func TestRewriteHTMLPreservesUntouchedBytes(t *testing.T) {
	in := "<html>\n  <body class='x'  data-a=1>\n<p>hi</p>\n</body></html>"
	out := rewriter.New().RewriteURLs(in, domain.ResourceTypePage, &fakeContext{})
	assert.Equal(t, in, out)
}

func TestRewriteCSS(t *testing.T) {
	in := `@import "base.css"; @import url(print.css); a{b:url( "x.png" )} c{d:url(data:image/gif;base64,R0)}`
	out := rewriter.New().RewriteURLs(in, domain.ResourceTypeStylesheet, &fakeContext{})
	assert.Equal(t,
		`@import "P[]:base.css"; @import url(P[]:print.css); a{b:url("P[]:x.png")} c{d:url(data:image/gif;base64,R0)}`,
		out)
}

func TestRewriteManifest(t *testing.T) {
	in := "CACHE MANIFEST\n# v1\nindex.html\n\nNETWORK:\n*\nFALLBACK:\n/ offline.html\r\n  app.js"
	out := rewriter.New().RewriteURLs(in, domain.ResourceTypeManifest, &fakeContext{})
	assert.Equal(t,
		"CACHE MANIFEST\n# v1\nP[]:index.html\n\nNETWORK:\n*\nFALLBACK:\nP[]:/ P[]:offline.html\r\n  P[]:app.js",
		out)
}

func TestScriptsUntouched(t *testing.T) {
	in := `var u = "http://example.com/";`
	assert.Equal(t, in, rewriter.New().RewriteURLs(in, domain.ResourceTypeScript, &fakeContext{}))
}

func TestInjectScripts(t *testing.T) {
	scripts := []string{"/hammerhead.js", "/task.js?a=1&b=2"}
	tag := `<script type="text/javascript" class="hammerhead-script" src="/hammerhead.js"></script>` +
		`<script type="text/javascript" class="hammerhead-script" src="/task.js?a=1&amp;b=2"></script>`

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"有 head", `<!doctype html><html><head><title>t</title></head></html>`, `<!doctype html><html><head>` + tag + `<title>t</title></head></html>`},
		{"无 head", `<html><body>x</body></html>`, `<html>` + tag + `<body>x</body></html>`},
		{"片段", `<p>x</p>`, tag + `<p>x</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rewriter.InjectScripts(tt.in, scripts))
		})
	}
	assert.Equal(t, "<p>x</p>", rewriter.InjectScripts("<p>x</p>", nil))
}

func TestStripMarkers(t *testing.T) {
	in := `<head><script type="text/javascript" class="hammerhead-script" src="/h.js"></script></head>` +
		`<a href="http://127.0.0.1:1337/owner!sid!i/https://example.com/page?x=1">l</a>` +
		`<img src="http://localhost:1338/!sid!!utf-8/http://cdn.com/i.png">`
	out := rewriter.New().StripMarkers(in)
	assert.Equal(t,
		`<head></head><a href="https://example.com/page?x=1">l</a><img src="http://cdn.com/i.png">`,
		out)
}
