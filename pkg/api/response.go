package api

import "hammerhead/pkg/errx"

// Response 控制接口的统一响应信封
type Response[T any] struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

// OK 构造成功响应
func OK[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

// Fail 构造失败响应
func Fail[T any](code, message string) Response[T] {
	return Response[T]{Code: code, Message: message}
}

// FromError 携带错误码的错误原样透出错误码，否则使用 fallback
func FromError[T any](err error, fallback string) Response[T] {
	code := fallback
	if c := errx.CodeOf(err); c != "" {
		code = string(c)
	}
	return Fail[T](code, err.Error())
}

// EmptyData 无业务数据
type EmptyData struct{}
