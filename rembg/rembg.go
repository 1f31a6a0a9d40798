package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/chaos-io/rembg-api/util"
	"go.uber.org/zap"
)

// Remover 去背景能力
type Remover interface {
	Remove(ctx context.Context, data []byte, opts Options) ([]byte, error)
}

// DefaultMaxPixels 解码前允许的最大像素数
const DefaultMaxPixels = 40_000_000

// Pipeline 解码图片、取得模型会话、推理并按参数输出 PNG
type Pipeline struct {
	sessions  *SessionCache
	maxSide   int
	maxPixels int
}

type PipelineOption func(*Pipeline)

// WithMaxSide 推理前把输入缩放到最长边不超过 n，0 表示不限制
func WithMaxSide(n int) PipelineOption {
	return func(p *Pipeline) {
		p.maxSide = n
	}
}

// WithMaxPixels 宽×高超过 n 的输入在解码前拒绝，0 表示不限制
func WithMaxPixels(n int) PipelineOption {
	return func(p *Pipeline) {
		p.maxPixels = n
	}
}

func NewPipeline(sessions *SessionCache, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{sessions: sessions, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Remove(ctx context.Context, data []byte, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	img, format, err := util.DecodeImageLimit(data, p.maxPixels)
	if errors.Is(err, util.ErrPixelLimit) {
		return nil, fmt.Errorf("%w: %v", ErrImageTooLarge, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrInference, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInference)
	}
	img = resizeWithinMax(img, p.maxSide)

	session, err := p.sessions.GetOrCreate(opts.Model)
	if err != nil {
		return nil, err
	}

	defer util.Trace("remove background",
		zap.String("model", opts.Model.String()),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))()

	out, err := p.apply(ctx, session, img, opts)
	if err != nil {
		return nil, err
	}

	encoded, err := util.EncodePNG(out)
	if err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", ErrInference, err)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrInference)
	}
	return encoded, nil
}

func (p *Pipeline) apply(ctx context.Context, session Session, img image.Image, opts Options) (image.Image, error) {
	mask, err := session.Predict(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	b := img.Bounds()
	if mask == nil || mask.Bounds().Dx() != b.Dx() || mask.Bounds().Dy() != b.Dy() {
		return nil, fmt.Errorf("%w: mask does not match image size %dx%d", ErrInference, b.Dx(), b.Dy())
	}

	if opts.PostProcessMask {
		mask = postProcessMask(mask)
	}

	if opts.OnlyMask {
		return mask, nil
	}
	if opts.AlphaMatting {
		return cutout(img, mattedAlpha(mask, opts)), nil
	}
	return cutout(img, mask), nil
}
