package mock_test

import (
	"context"
	"errors"
	"testing"

	"hammerhead/internal/mock"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/errx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	m, err := mock.New()
	require.NoError(t, err)
	assert.Equal(t, 200, m.StatusCode())
	assert.Equal(t, "<html><body></body></html>", string(m.Body()))
	assert.Equal(t, "text/html; charset=utf-8", m.Headers().Get("content-type"))
}

func TestNilBodyWithStatus(t *testing.T) {
	m, err := mock.New(mock.WithBody(nil), mock.WithStatus(204))
	require.NoError(t, err)
	assert.Equal(t, 204, m.StatusCode())
	assert.Nil(t, m.Body())
	assert.Equal(t, "", m.Headers().Get("content-type"))

	res, err := m.Build(context.Background(), &domain.Request{})
	require.NoError(t, err)
	assert.Equal(t, 204, res.StatusCode)
	assert.Nil(t, res.Body)
}

func TestBodyKinds(t *testing.T) {
	tests := []struct {
		name        string
		body        any
		wantBody    string
		contentType string
	}{
		{"字符串", "hello", "hello", "text/html; charset=utf-8"},
		{"字节", []byte{1, 2}, "\x01\x02", "application/octet-stream"},
		{"map 转 JSON", map[string]any{"ok": true}, `{"ok":true}`, "application/json; charset=utf-8"},
		{"切片转 JSON", []int{1, 2}, `[1,2]`, "application/json; charset=utf-8"},
		{"结构体转 JSON", struct {
			Name string `json:"name"`
		}{"x"}, `{"name":"x"}`, "application/json; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := mock.New(mock.WithBody(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(m.Body()))
			assert.Equal(t, tt.contentType, m.Headers().Get("Content-Type"))
		})
	}
}

func TestHeadersLowercasedAndExplicitContentTypeKept(t *testing.T) {
	m, err := mock.New(
		mock.WithBody("{}"),
		mock.WithHeaders(map[string]string{"Content-Type": "application/json", "X-Custom": "1"}),
	)
	require.NoError(t, err)
	h := m.Headers()
	assert.Equal(t, "application/json", h["content-type"])
	assert.Equal(t, "1", h["x-custom"])
	_, hasUpper := h["X-Custom"]
	assert.False(t, hasUpper)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		opts  []mock.Option
		field string
	}{
		{"状态码过小", []mock.Option{mock.WithStatus(99)}, "statusCode"},
		{"状态码过大", []mock.Option{mock.WithStatus(1000)}, "statusCode"},
		{"非法头部名", []mock.Option{mock.WithHeader("bad header", "x")}, "headers"},
		{"非法头部值", []mock.Option{mock.WithHeader("x-a", "line\nbreak")}, "headers"},
		{"不支持的响应体", []mock.Option{mock.WithBody(make(chan int))}, "body"},
		{"无法序列化", []mock.Option{mock.WithBody(map[string]any{"f": func() {}})}, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := mock.New(tt.opts...)
			assert.Nil(t, m)
			require.Error(t, err)
			assert.True(t, errx.Is(err, errx.CodeResponseMockValidation))
			var ve *mock.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Panics(t, func() { mock.MustNew(mock.WithStatus(0)) })
}

func TestResponder(t *testing.T) {
	m, err := mock.New(
		mock.WithStatus(201),
		mock.WithBody(mock.Responder(func(_ context.Context, req *domain.Request, res *domain.Response) error {
			res.Headers.Set("x-url", req.URL)
			res.Body = []byte("dynamic:" + req.Method)
			return nil
		})),
	)
	require.NoError(t, err)
	assert.True(t, m.IsDynamic())

	res, err := m.Build(context.Background(), &domain.Request{URL: "https://a.com/", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
	assert.Equal(t, "https://a.com/", res.Headers.Get("X-Url"))
	assert.Equal(t, "dynamic:GET", string(res.Body))

	failing := mock.MustNew(mock.WithBody(func(context.Context, *domain.Request, *domain.Response) error {
		return errors.New("nope")
	}))
	_, err = failing.Build(context.Background(), &domain.Request{})
	assert.Error(t, err)
}

func TestResponderInvalidStatus(t *testing.T) {
	for _, status := range []int{0, 99, 1000} {
		m := mock.MustNew(mock.WithBody(mock.Responder(func(_ context.Context, _ *domain.Request, res *domain.Response) error {
			res.StatusCode = status
			return nil
		})))
		res, err := m.Build(context.Background(), &domain.Request{URL: "https://a.com/"})
		assert.Nil(t, res, "status %d", status)
		require.Error(t, err, "status %d", status)
		assert.True(t, errx.Is(err, errx.CodeResponseMockValidation))
		var ve *mock.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "statusCode", ve.Field)
	}
}

func TestBuildIsolatesBody(t *testing.T) {
	m := mock.MustNew(mock.WithBody("abc"))
	res, err := m.Build(context.Background(), &domain.Request{})
	require.NoError(t, err)
	res.Body[0] = 'X'
	res.Headers.Set("content-type", "changed")
	assert.Equal(t, "abc", string(m.Body()))
	assert.Equal(t, "text/html; charset=utf-8", m.Headers().Get("content-type"))
}
