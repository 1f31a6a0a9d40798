package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/chaos-io/rembg-api/util"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Session 绑定单个模型的推理句柄，可重复推理
type Session interface {
	Model() Model
	// Predict 返回与 img 同尺寸的前景概率掩码 (0-255)
	Predict(ctx context.Context, img image.Image) (*image.Gray, error)
	Close() error
}

// SessionFactory 创建会话，通常较慢（加载模型权重）
type SessionFactory func(model Model) (Session, error)

// SessionCache 按模型缓存会话。同一模型的并发首次请求只会触发一次构造，
// 构造失败不会写入缓存。
type SessionCache struct {
	factory  SessionFactory
	mu       sync.RWMutex
	sessions map[Model]Session
	group    singleflight.Group
}

func NewSessionCache(factory SessionFactory) *SessionCache {
	return &SessionCache{
		factory:  factory,
		sessions: make(map[Model]Session),
	}
}

func (c *SessionCache) lookup(model Model) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[model]
	return s, ok
}

func (c *SessionCache) GetOrCreate(model Model) (Session, error) {
	if s, ok := c.lookup(model); ok {
		return s, nil
	}

	v, err, _ := c.group.Do(string(model), func() (interface{}, error) {
		if s, ok := c.lookup(model); ok {
			return s, nil
		}

		done := util.Trace("create session", zap.String("model", model.String()))
		s, err := c.factory(model)
		done()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSessionConstruction, model, err)
		}
		if s == nil {
			return nil, fmt.Errorf("%w: %s: factory returned nil session", ErrSessionConstruction, model)
		}

		c.mu.Lock()
		c.sessions[model] = s
		c.mu.Unlock()

		util.Logger.Info("session created", zap.String("model", model.String()))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Session), nil
}

// Models 已加载的模型
func (c *SessionCache) Models() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.sessions))
	for _, m := range models {
		if _, ok := c.sessions[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Close 关闭全部会话并清空缓存
func (c *SessionCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for m, s := range c.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m, err))
		}
		delete(c.sessions, m)
	}
	return errors.Join(errs...)
}
