package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg-api/cache"
	"github.com/chaos-io/rembg-api/ingress"
	"github.com/chaos-io/rembg-api/rembg"
	"github.com/chaos-io/rembg-api/sink"
	"github.com/chaos-io/rembg-api/util"
	"github.com/chaos-io/rembg-api/worker"
)

const (
	uploadField = "file"
	// multipart 边界与表单字段的余量
	formOverhead = 1 << 20
)

type Handler struct {
	remover  rembg.Remover
	sessions *rembg.SessionCache
	pool     *worker.Pool
	fetcher  *ingress.Fetcher
	stager   *ingress.Stager
	store    *sink.Store
	results  cache.ResultCache
	maxSize  int64
}

type HandlerDeps struct {
	Remover  rembg.Remover
	Sessions *rembg.SessionCache
	Pool     *worker.Pool
	Fetcher  *ingress.Fetcher
	Stager   *ingress.Stager
	Store    *sink.Store
	Results  cache.ResultCache
	MaxSize  int64
}

func NewHandler(deps HandlerDeps) *Handler {
	results := deps.Results
	if results == nil {
		results = cache.Nop{}
	}
	maxSize := deps.MaxSize
	if maxSize <= 0 {
		maxSize = ingress.DefaultMaxSize
	}
	return &Handler{
		remover:  deps.Remover,
		sessions: deps.Sessions,
		pool:     deps.Pool,
		fetcher:  deps.Fetcher,
		stager:   deps.Stager,
		store:    deps.Store,
		results:  results,
		maxSize:  maxSize,
	}
}

// Index 占位根路由，没有任何鉴权
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"Error": "Not Authorized"})
}

func (h *Handler) Health(c *gin.Context) {
	loaded := []rembg.Model{}
	if h.sessions != nil {
		loaded = h.sessions.Models()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"models":  rembg.Models(),
		"loaded":  loaded,
		"workers": h.pool.Size(),
	})
}

// RemoveFromURL GET /api/remove?url=...，结果直接以 PNG 返回
func (h *Handler) RemoveFromURL(c *gin.Context) {
	var p URLParams
	if err := c.ShouldBindQuery(&p); err != nil {
		abortWithError(c, bindError(err))
		return
	}
	opts, err := p.Options()
	if err != nil {
		abortWithError(c, err)
		return
	}

	data, err := h.fetcher.Fetch(c.Request.Context(), p.URL)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out, err := h.remove(c, data, opts)
	if err != nil {
		abortWithError(c, err)
		return
	}
	sink.Inline(c, out)
}

// RemoveFromUpload POST /api/remove，multipart 上传或原始图片请求体，结果落盘后返回 URL
func (h *Handler) RemoveFromUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+formOverhead)

	var p Params
	if err := c.ShouldBind(&p); err != nil {
		abortWithError(c, bindError(err))
		return
	}
	opts, err := p.Options()
	if err != nil {
		abortWithError(c, err)
		return
	}

	data, err := h.readUpload(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out, err := h.remove(c, data, opts)
	if err != nil {
		abortWithError(c, err)
		return
	}

	baseURL := sink.BaseURL(c.Request)
	res, err := worker.Do(context.WithoutCancel(c.Request.Context()), h.pool, func() (*sink.StoredResult, error) {
		return h.store.Save(out, baseURL)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	util.Logger.Info("result stored",
		zap.String("file", res.Filename),
		zap.String("request_id", c.GetString(requestIDKey)))
	c.JSON(http.StatusOK, gin.H{"image": res.URL})
}

func (h *Handler) readUpload(c *gin.Context) ([]byte, error) {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "image/") || contentType == "application/octet-stream" {
		return ingress.ReadBody(c.Request.Body, h.maxSize)
	}

	fh, err := c.FormFile(uploadField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, &rembg.ValidationError{Field: uploadField, Reason: "image file is required"}
		}
		return nil, &rembg.ValidationError{Field: uploadField, Reason: err.Error()}
	}
	return h.stager.Read(fh)
}

// remove 先查结果缓存，未命中时在工作池中推理
func (h *Handler) remove(c *gin.Context, data []byte, opts rembg.Options) ([]byte, error) {
	ctx := c.Request.Context()
	key := cache.Key(data, opts.Key())

	if cached, ok, err := h.results.Get(ctx, key); err != nil {
		util.Logger.Warn("failed to get cache", zap.Error(err))
	} else if ok {
		util.Logger.Debug("cache hit", zap.String("cache_key", key))
		return cached, nil
	}

	out, err := worker.Do(ctx, h.pool, func() ([]byte, error) {
		return h.remover.Remove(context.WithoutCancel(ctx), data, opts)
	})
	if err != nil {
		return nil, err
	}

	if err := h.results.Set(ctx, key, out); err != nil {
		util.Logger.Warn("failed to set cache", zap.Error(err))
	}
	return out, nil
}
