// Package mock 构造不访问源站、直接返回给客户端的模拟响应
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"golang.org/x/net/http/httpguts"
)

// DefaultBody 未指定响应体时返回的页面
const DefaultBody = "<html><body></body></html>"

// Responder 动态生成响应，res 已填入状态码与头部
type Responder func(ctx context.Context, req *domain.Request, res *domain.Response) error

// ValidationError 构造参数非法
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid response mock %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return errx.New(errx.CodeResponseMockValidation, e.Field)
}

// ResponseMock 模拟响应
type ResponseMock struct {
	status      int
	headers     domain.Header
	body        []byte
	responder   Responder
	contentType string
}

// Option 构造选项
type Option func(*builder)

type builder struct {
	body    any
	bodySet bool
	status  int
	headers map[string]string
}

// WithBody 设置响应体：nil、string、[]byte、Responder 或可 JSON 序列化的值
func WithBody(body any) Option {
	return func(b *builder) {
		b.body = body
		b.bodySet = true
	}
}

// WithStatus 设置状态码，范围 100-999
func WithStatus(code int) Option {
	return func(b *builder) { b.status = code }
}

// WithHeaders 设置响应头，键名统一转为小写
func WithHeaders(h map[string]string) Option {
	return func(b *builder) {
		for k, v := range h {
			b.headers[k] = v
		}
	}
}

// WithHeader 设置单个响应头
func WithHeader(name, value string) Option {
	return func(b *builder) { b.headers[name] = value }
}

// New 构造模拟响应，参数非法时立即返回 *ValidationError
func New(opts ...Option) (*ResponseMock, error) {
	b := &builder{status: 200, headers: map[string]string{}}
	for _, opt := range opts {
		opt(b)
	}

	if b.status < 100 || b.status > 999 {
		return nil, &ValidationError{Field: "statusCode", Reason: fmt.Sprintf("%d is out of range 100-999", b.status)}
	}

	m := &ResponseMock{status: b.status, headers: make(domain.Header, len(b.headers))}
	for k, v := range b.headers {
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, &ValidationError{Field: "headers", Reason: fmt.Sprintf("invalid header name %q", k)}
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return nil, &ValidationError{Field: "headers", Reason: fmt.Sprintf("invalid value for header %q", k)}
		}
		m.headers[strings.ToLower(k)] = v
	}

	if !b.bodySet {
		m.body = []byte(DefaultBody)
		m.contentType = "text/html; charset=utf-8"
	} else if err := m.setBody(b.body); err != nil {
		return nil, err
	}
	if m.contentType != "" && m.headers.Get("content-type") == "" {
		m.headers.Set("content-type", m.contentType)
	}
	return m, nil
}

// MustNew 与 New 相同，参数非法时 panic
func MustNew(opts ...Option) *ResponseMock {
	m, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *ResponseMock) setBody(body any) error {
	switch v := body.(type) {
	case nil:
		return nil
	case string:
		m.body = []byte(v)
		m.contentType = "text/html; charset=utf-8"
		return nil
	case []byte:
		m.body = append([]byte(nil), v...)
		m.contentType = "application/octet-stream"
		return nil
	case Responder:
		m.responder = v
		return nil
	case func(ctx context.Context, req *domain.Request, res *domain.Response) error:
		m.responder = v
		return nil
	}

	switch reflect.TypeOf(body).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer,
		reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		data, err := json.Marshal(body)
		if err != nil {
			return &ValidationError{Field: "body", Reason: err.Error()}
		}
		m.body = data
		m.contentType = "application/json; charset=utf-8"
		return nil
	}
	return &ValidationError{Field: "body", Reason: fmt.Sprintf("unsupported type %T", body)}
}

// StatusCode 状态码
func (m *ResponseMock) StatusCode() int { return m.status }

// Headers 响应头副本
func (m *ResponseMock) Headers() domain.Header { return m.headers.Clone() }

// Body 静态响应体副本，nil 表示无响应体或由 Responder 动态生成
func (m *ResponseMock) Body() []byte {
	if m.body == nil {
		return nil
	}
	return append([]byte(nil), m.body...)
}

// IsDynamic 是否由 Responder 生成
func (m *ResponseMock) IsDynamic() bool { return m.responder != nil }

// Build 为请求生成响应
func (m *ResponseMock) Build(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	res := &domain.Response{
		StatusCode: m.status,
		Headers:    m.headers.Clone(),
		Body:       m.Body(),
	}
	if m.responder != nil {
		if err := m.responder(ctx, req, res); err != nil {
			return nil, fmt.Errorf("response mock responder: %w", err)
		}
		if res.Headers == nil {
			res.Headers = domain.Header{}
		}
		if res.StatusCode < 100 || res.StatusCode > 999 {
			return nil, &ValidationError{Field: "statusCode", Reason: fmt.Sprintf("responder set %d, out of range 100-999", res.StatusCode)}
		}
	}
	return res, nil
}
