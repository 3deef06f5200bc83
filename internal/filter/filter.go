// Package filter 定义请求过滤规则，用于决定钩子作用于哪些请求
package filter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"github.com/google/uuid"
)

// Kind 规则种类
type Kind int

const (
	KindAny Kind = iota
	KindURL
	KindRegexp
	KindPredicate
	KindMatcher
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindURL:
		return "url"
	case KindRegexp:
		return "regexp"
	case KindPredicate:
		return "predicate"
	case KindMatcher:
		return "matcher"
	}
	return "unknown"
}

// Predicate 自定义判断函数，在请求发出前同步执行完毕
type Predicate func(ctx context.Context, req *domain.Request) (bool, error)

// Matcher 结构化匹配条件，零值字段不参与匹配
type Matcher struct {
	URL    any // string 或 *regexp.Regexp
	Method string
	IsAjax *bool
}

// Rule 请求过滤规则，创建后不可修改
type Rule struct {
	id     string
	kind   Kind
	url    string
	re     *regexp.Regexp
	pred   Predicate
	method string
	isAjax *bool
}

// Any 匹配所有请求
var Any = &Rule{id: "any", kind: KindAny}

// URL 精确匹配地址
func URL(u string) *Rule {
	return &Rule{id: uuid.NewString(), kind: KindURL, url: u}
}

// Regexp 正则匹配地址
func Regexp(re *regexp.Regexp) *Rule {
	return &Rule{id: uuid.NewString(), kind: KindRegexp, re: re}
}

// Func 自定义判断
func Func(p Predicate) *Rule {
	return &Rule{id: uuid.NewString(), kind: KindPredicate, pred: p}
}

// Match 结构化匹配
func Match(m Matcher) (*Rule, error) {
	r := &Rule{id: uuid.NewString(), kind: KindMatcher, method: strings.ToUpper(m.Method), isAjax: m.IsAjax}
	switch v := m.URL.(type) {
	case nil:
	case string:
		r.url = v
	case *regexp.Regexp:
		r.re = v
	default:
		return nil, errx.Newf(errx.CodeInvalidFilterRule, "unsupported url matcher type %T", m.URL)
	}
	return r, nil
}

// From 将多种输入统一为规则列表
//
// 支持 *Rule（保持原对象）、string、*regexp.Regexp、Predicate、
// func(*domain.Request) bool、Matcher 以及 {url, method, isAjax} 形式的 map。
func From(items ...any) ([]*Rule, error) {
	out := make([]*Rule, 0, len(items))
	for i, item := range items {
		r, err := from(item)
		if err != nil {
			return nil, fmt.Errorf("filter item %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func from(item any) (*Rule, error) {
	switch v := item.(type) {
	case *Rule:
		if v == nil {
			return nil, errx.New(errx.CodeInvalidFilterRule, "nil rule")
		}
		return v, nil
	case string:
		return URL(v), nil
	case *regexp.Regexp:
		return Regexp(v), nil
	case Predicate:
		return Func(v), nil
	case func(ctx context.Context, req *domain.Request) (bool, error):
		return Func(v), nil
	case func(req *domain.Request) bool:
		return Func(func(_ context.Context, req *domain.Request) (bool, error) { return v(req), nil }), nil
	case Matcher:
		return Match(v)
	case *Matcher:
		if v == nil {
			return nil, errx.New(errx.CodeInvalidFilterRule, "nil matcher")
		}
		return Match(*v)
	case map[string]any:
		return fromDescriptor(v)
	}
	return nil, errx.Newf(errx.CodeInvalidFilterRule, "unsupported filter type %T", item)
}

func fromDescriptor(d map[string]any) (*Rule, error) {
	var m Matcher
	for k, v := range d {
		switch k {
		case "url":
			m.URL = v
		case "method":
			s, ok := v.(string)
			if !ok {
				return nil, errx.Newf(errx.CodeInvalidFilterRule, "method must be string, got %T", v)
			}
			m.Method = s
		case "isAjax":
			b, ok := v.(bool)
			if !ok {
				return nil, errx.Newf(errx.CodeInvalidFilterRule, "isAjax must be bool, got %T", v)
			}
			m.IsAjax = &b
		default:
			return nil, errx.Newf(errx.CodeInvalidFilterRule, "unknown matcher field %q", k)
		}
	}
	return Match(m)
}

// ID 规则标识
func (r *Rule) ID() string { return r.id }

// Kind 规则种类
func (r *Rule) Kind() Kind { return r.kind }

func (r *Rule) String() string {
	switch r.kind {
	case KindURL:
		return "url(" + r.url + ")"
	case KindRegexp:
		return "regexp(" + r.re.String() + ")"
	case KindMatcher:
		return fmt.Sprintf("matcher(url=%s method=%s)", r.matcherURL(), r.method)
	}
	return r.kind.String()
}

// Matches 判断请求是否命中规则
func (r *Rule) Matches(ctx context.Context, req *domain.Request) (bool, error) {
	switch r.kind {
	case KindAny:
		return true, nil
	case KindURL:
		return sameURL(r.url, req.URL), nil
	case KindRegexp:
		return r.re.MatchString(req.URL), nil
	case KindPredicate:
		return r.pred(ctx, req)
	case KindMatcher:
		if r.url != "" && !sameURL(r.url, req.URL) {
			return false, nil
		}
		if r.re != nil && !r.re.MatchString(req.URL) {
			return false, nil
		}
		if r.method != "" && !strings.EqualFold(r.method, req.Method) {
			return false, nil
		}
		if r.isAjax != nil && *r.isAjax != req.IsAjax {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

func (r *Rule) matcherURL() string {
	if r.re != nil {
		return r.re.String()
	}
	return r.url
}

// sameURL 比较地址，忽略协议与主机大小写以及空路径与 "/" 的差异
func sameURL(a, b string) bool {
	if a == b {
		return true
	}
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return canonical(ua) == canonical(ub)
}

func canonical(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	if c.Path == "" && c.Host != "" {
		c.Path = "/"
	}
	return c.String()
}
