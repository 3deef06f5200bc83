// Package executor 将声明式规则的行为应用到代理请求与响应上
package executor

import (
	"fmt"
	"strconv"
	"strings"

	"hammerhead/internal/mock"
	"hammerhead/internal/transformer"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/rulespec"
)

// RequestResult 请求阶段执行结果
type RequestResult struct {
	Modified bool
	Mock     *mock.ResponseMock // 终结性行为 mock 产生的模拟响应
	Applied  []string           // 实际生效的行为类型
}

// ResponseResult 响应阶段执行结果
type ResponseResult struct {
	Modified bool
	Applied  []string
}

// Executor 行为执行器
type Executor struct{}

// New 创建行为执行器
func New() *Executor {
	return &Executor{}
}

// ExecuteRequestActions 在请求上原地执行请求阶段行为
//
// 遇到 mock 行为立即返回；单个行为失败不影响后续行为，错误合并返回。
func (e *Executor) ExecuteRequestActions(actions []rulespec.Action, req *domain.Request) (*RequestResult, error) {
	res := &RequestResult{}
	if req.Headers == nil {
		req.Headers = domain.Header{}
	}

	var (
		setQuery    = map[string]string{}
		removeQuery []string
		cookies     map[string]string
		errs        []string
	)
	loadCookies := func() map[string]string {
		if cookies == nil {
			cookies = transformer.ParseCookies(req.Headers.Get("Cookie"))
		}
		return cookies
	}
	mark := func(a rulespec.Action) {
		res.Modified = true
		res.Applied = append(res.Applied, string(a.Type))
	}

	for _, action := range actions {
		if !action.IsValidForStage(rulespec.StageRequest) {
			continue
		}
		switch action.Type {
		case rulespec.ActionSetUrl:
			if v, ok := action.Value.(string); ok && v != "" {
				req.URL = v
				mark(action)
			}

		case rulespec.ActionSetMethod:
			if v, ok := action.Value.(string); ok && v != "" {
				req.Method = strings.ToUpper(v)
				mark(action)
			}

		case rulespec.ActionSetHeader:
			if v, ok := action.Value.(string); ok {
				req.Headers.Set(action.Name, v)
				mark(action)
			}

		case rulespec.ActionRemoveHeader:
			req.Headers.Del(action.Name)
			mark(action)

		case rulespec.ActionSetQueryParam:
			if v, ok := action.Value.(string); ok {
				setQuery[action.Name] = v
				mark(action)
			}

		case rulespec.ActionRemoveQueryParam:
			delete(setQuery, action.Name)
			removeQuery = append(removeQuery, action.Name)
			mark(action)

		case rulespec.ActionSetCookie:
			if v, ok := action.Value.(string); ok {
				loadCookies()[action.Name] = v
				mark(action)
			}

		case rulespec.ActionRemoveCookie:
			delete(loadCookies(), action.Name)
			mark(action)

		case rulespec.ActionSetBody, rulespec.ActionAppendBody, rulespec.ActionReplaceBodyText, rulespec.ActionPatchBodyJson:
			body, err := applyBody(action, string(req.Body))
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			req.Body = []byte(body)
			mark(action)

		case rulespec.ActionSetFormField, rulespec.ActionRemoveFormField:
			var (
				body string
				err  error
			)
			ct := req.Headers.Get("Content-Type")
			if action.Type == rulespec.ActionSetFormField {
				v, _ := action.Value.(string)
				body, err = transformer.SetFormField(string(req.Body), ct, action.Name, v)
			} else {
				body, err = transformer.RemoveFormField(string(req.Body), ct, action.Name)
			}
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s %s: %v", action.Type, action.Name, err))
				continue
			}
			req.Body = []byte(body)
			mark(action)

		case rulespec.ActionMock:
			m, err := buildMock(action)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			res.Mock = m
			res.Applied = append(res.Applied, string(action.Type))
			return res, joinErrs(errs)
		}
	}

	if len(setQuery) > 0 || len(removeQuery) > 0 {
		u, err := transformer.EditQuery(req.URL, setQuery, removeQuery)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			req.URL = u
			req.Query = transformer.ParseQuery(u)
		}
	}
	if cookies != nil {
		req.Cookies = cookies
		if s := transformer.BuildCookieString(cookies); s != "" {
			req.Headers.Set("Cookie", s)
		} else {
			req.Headers.Del("Cookie")
		}
	}
	return res, joinErrs(errs)
}

// ExecuteResponseActions 在响应上原地执行响应阶段行为
func (e *Executor) ExecuteResponseActions(actions []rulespec.Action, resp *domain.Response) (*ResponseResult, error) {
	res := &ResponseResult{}
	if resp.Headers == nil {
		resp.Headers = domain.Header{}
	}
	var errs []string
	mark := func(a rulespec.Action) {
		res.Modified = true
		res.Applied = append(res.Applied, string(a.Type))
	}

	for _, action := range actions {
		if !action.IsValidForStage(rulespec.StageResponse) {
			continue
		}
		switch action.Type {
		case rulespec.ActionSetStatus:
			if code, ok := statusOf(action.Value); ok {
				resp.StatusCode = code
				mark(action)
			}

		case rulespec.ActionSetHeader:
			if v, ok := action.Value.(string); ok {
				resp.Headers.Set(action.Name, v)
				mark(action)
			}

		case rulespec.ActionRemoveHeader:
			resp.Headers.Del(action.Name)
			mark(action)

		case rulespec.ActionSetBody, rulespec.ActionAppendBody, rulespec.ActionReplaceBodyText, rulespec.ActionPatchBodyJson:
			body, err := applyBody(action, string(resp.Body))
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			resp.Body = []byte(body)
			mark(action)
		}
	}
	return res, joinErrs(errs)
}

// applyBody 执行两阶段通用的 Body 行为
func applyBody(action rulespec.Action, body string) (string, error) {
	switch action.Type {
	case rulespec.ActionSetBody, rulespec.ActionAppendBody:
		v, ok := action.Value.(string)
		if !ok {
			return body, fmt.Errorf("%s: value must be a string", action.Type)
		}
		decoded, err := transformer.DecodeBody(v, action.GetEncoding())
		if err != nil {
			return body, fmt.Errorf("%s: %w", action.Type, err)
		}
		if action.Type == rulespec.ActionAppendBody {
			return body + decoded, nil
		}
		return decoded, nil
	case rulespec.ActionReplaceBodyText:
		return transformer.ReplaceText(body, action.Search, action.Replace, action.ReplaceAll), nil
	case rulespec.ActionPatchBodyJson:
		out, err := transformer.PatchJSON(body, action.Patches)
		if err != nil {
			return body, fmt.Errorf("%s: %w", action.Type, err)
		}
		return out, nil
	}
	return body, nil
}

// buildMock 将 mock 行为转换为模拟响应，未给出状态码时沿用模拟响应的默认值
func buildMock(action rulespec.Action) (*mock.ResponseMock, error) {
	var opts []mock.Option
	if action.StatusCode != 0 {
		opts = append(opts, mock.WithStatus(action.StatusCode))
	}
	if len(action.Headers) > 0 {
		opts = append(opts, mock.WithHeaders(action.Headers))
	}
	if action.Body != "" {
		body, err := transformer.DecodeBody(action.Body, action.GetBodyEncoding())
		if err != nil {
			return nil, fmt.Errorf("mock: %w", err)
		}
		if action.GetBodyEncoding() == rulespec.BodyEncodingBase64 {
			opts = append(opts, mock.WithBody([]byte(body)))
		} else {
			opts = append(opts, mock.WithBody(body))
		}
	}
	return mock.New(opts...)
}

func statusOf(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		code, err := strconv.Atoi(n)
		return code, err == nil
	}
	return 0, false
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("executor: %s", strings.Join(errs, "; "))
}
