package filter_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"hammerhead/internal/filter"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(url, method string, ajax bool) *domain.Request {
	return &domain.Request{URL: url, Method: method, IsAjax: ajax}
}

func TestRuleMatches(t *testing.T) {
	yes, no := true, false
	matcher, err := filter.Match(filter.Matcher{URL: "https://a.com/api", Method: "post", IsAjax: &yes})
	require.NoError(t, err)
	reMatcher, err := filter.Match(filter.Matcher{URL: regexp.MustCompile(`\.js$`), IsAjax: &no})
	require.NoError(t, err)

	tests := []struct {
		name string
		rule *filter.Rule
		req  *domain.Request
		want bool
	}{
		{"Any", filter.Any, req("https://x.com/", "GET", false), true},
		{"精确地址", filter.URL("https://a.com/p"), req("https://a.com/p", "GET", false), true},
		{"精确地址忽略空路径", filter.URL("https://A.com"), req("https://a.com/", "GET", false), true},
		{"精确地址不同", filter.URL("https://a.com/p"), req("https://a.com/p2", "GET", false), false},
		{"正则", filter.Regexp(regexp.MustCompile(`/api/`)), req("https://a.com/api/x", "GET", false), true},
		{"结构化全部满足", matcher, req("https://a.com/api", "POST", true), true},
		{"结构化方法不符", matcher, req("https://a.com/api", "GET", true), false},
		{"结构化 ajax 不符", matcher, req("https://a.com/api", "POST", false), false},
		{"结构化正则", reMatcher, req("https://a.com/app.js", "GET", false), true},
		{"结构化正则 ajax 不符", reMatcher, req("https://a.com/app.js", "GET", true), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.Matches(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredicateError(t *testing.T) {
	boom := errors.New("boom")
	r := filter.Func(func(context.Context, *domain.Request) (bool, error) { return false, boom })
	_, err := r.Matches(context.Background(), req("https://a.com/", "GET", false))
	assert.ErrorIs(t, err, boom)
}

func TestFromNormalizes(t *testing.T) {
	existing := filter.URL("https://keep.com/")
	rules, err := filter.From(
		existing,
		"https://a.com/",
		regexp.MustCompile(`b\.com`),
		func(r *domain.Request) bool { return r.Method == "PUT" },
		filter.Matcher{Method: "GET"},
		map[string]any{"url": "https://c.com/", "isAjax": true},
		filter.Any,
	)
	require.NoError(t, err)
	require.Len(t, rules, 7)

	assert.Same(t, existing, rules[0], "已有规则应保持原对象")
	assert.Same(t, filter.Any, rules[6])
	assert.Equal(t, filter.KindURL, rules[1].Kind())
	assert.Equal(t, filter.KindRegexp, rules[2].Kind())
	assert.Equal(t, filter.KindPredicate, rules[3].Kind())
	assert.Equal(t, filter.KindMatcher, rules[4].Kind())
	assert.Equal(t, filter.KindMatcher, rules[5].Kind())

	ids := map[string]bool{}
	for _, r := range rules {
		assert.NotEmpty(t, r.ID())
		assert.False(t, ids[r.ID()], "规则 ID 应唯一")
		ids[r.ID()] = true
	}

	// 再次规范化同一批规则，ID 保持不变
	again, err := filter.From(rules[1], rules[2])
	require.NoError(t, err)
	assert.Equal(t, rules[1].ID(), again[0].ID())
	assert.Equal(t, rules[2].ID(), again[1].ID())

	ok, err := rules[5].Matches(context.Background(), req("https://c.com/", "GET", true))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = rules[3].Matches(context.Background(), req("https://c.com/", "PUT", false))
	assert.True(t, ok)
}

func TestFromErrors(t *testing.T) {
	cases := []any{
		42,
		map[string]any{"url": 1},
		map[string]any{"method": 1},
		map[string]any{"isAjax": "yes"},
		map[string]any{"unknown": "x"},
		(*filter.Rule)(nil),
	}
	for _, c := range cases {
		_, err := filter.From(c)
		assert.True(t, errx.Is(err, errx.CodeInvalidFilterRule), "%v", c)
	}
}

func TestRuleString(t *testing.T) {
	assert.Equal(t, "any", filter.Any.String())
	assert.Equal(t, "url(https://a.com/)", filter.URL("https://a.com/").String())
}
