package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrBodyTooLarge = errors.New("response body too large")

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求，Response 非 nil 时写入原始响应体
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       io.Reader
	Response   *[]byte

	Timeout     time.Duration
	MaxBodySize int64
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d: %s", e.StatusCode, e.Body)
}
