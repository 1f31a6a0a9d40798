package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/chaos-io/rembg-api/rembg"
	nhttp "github.com/chaos-io/rembg-api/util/http"
)

const DefaultMaxSize = 10 << 20

var (
	ErrFetch      = errors.New("fetch image failed")
	ErrInvalidURL = errors.New("invalid image url")
	ErrTooLarge   = errors.New("image too large")
)

// Fetcher URL 模式：GET 远端图片，超时与大小受限，不重试
type Fetcher struct {
	cli     nhttp.IClient
	timeout time.Duration
	maxSize int64
}

func NewFetcher(cli nhttp.IClient, timeout time.Duration, maxSize int64) *Fetcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Fetcher{cli: cli, timeout: timeout, maxSize: maxSize}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	var data []byte
	err = f.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI:  u.String(),
		Method:      "GET",
		Response:    &data,
		Timeout:     f.timeout,
		MaxBodySize: f.maxSize,
	})
	if errors.Is(err, nhttp.ErrBodyTooLarge) {
		return nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrFetch)
	}
	if err := checkImage(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadBody 原始上传模式：请求体即图片
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxSize)
	}
	if err := checkImage(data); err != nil {
		return nil, err
	}
	return data, nil
}

// checkImage 按内容嗅探类型，非图片在进入推理前就拒绝
func checkImage(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty image", rembg.ErrInference)
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return fmt.Errorf("%w: unsupported content type %s", rembg.ErrInference, mtype.String())
	}
	return nil
}
