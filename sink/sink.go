package sink

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/rembg-api/util"
)

const ContentTypePNG = "image/png"

var ErrStorage = errors.New("store result failed")

// Inline 直接把 PNG 作为响应体返回
func Inline(c *gin.Context, data []byte) {
	c.Data(http.StatusOK, ContentTypePNG, data)
}

// StoredResult 已落盘的结果
type StoredResult struct {
	Filename string `json:"filename"`
	Path     string `json:"-"`
	URL      string `json:"image"`
}

// Store 把结果写入静态目录并返回可访问的 URL，不会清理旧文件（见 Sweep）
type Store struct {
	dir    string
	prefix string
}

func NewStore(dir, prefix string) *Store {
	return &Store{
		dir:    dir,
		prefix: "/" + strings.Trim(prefix, "/"),
	}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Prefix() string {
	return s.prefix
}

// Save 校验输出可解码后写入 <dir>/<ksuid>.png，baseURL 形如 http://host:port
func (s *Store) Save(data []byte, baseURL string) (*StoredResult, error) {
	img, _, err := util.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode output: %v", ErrStorage, err)
	}
	encoded, err := util.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("%w: encode output: %v", ErrStorage, err)
	}

	filename := ksuid.New().String() + ".png"
	fullPath := filepath.Join(s.dir, filename)
	if err := util.WriteFileAtomic(fullPath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &StoredResult{
		Filename: filename,
		Path:     fullPath,
		URL:      strings.TrimRight(baseURL, "/") + path.Join(s.prefix, filename),
	}, nil
}

// Sweep 删除早于 olderThan 的结果文件
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	return util.SweepDir(s.dir, olderThan)
}

// BaseURL 由当前请求的 scheme 与 Host 头拼出外部访问地址
func BaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
