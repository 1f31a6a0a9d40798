package ingress

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg-api/util"
)

const chunkSize = 1 << 20

var ErrStorage = errors.New("staging upload failed")

// Stager 处理 multipart 上传。stageToDisk 为 true 时先分块写入 uploads 目录再读回，
// 否则直接在内存中读取。
type Stager struct {
	dir         string
	stageToDisk bool
	maxSize     int64
}

func NewStager(dir string, stageToDisk bool, maxSize int64) *Stager {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Stager{dir: dir, stageToDisk: stageToDisk, maxSize: maxSize}
}

func (s *Stager) Read(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, fh.Size, s.maxSize)
	}

	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if !s.stageToDisk {
		return ReadBody(file, s.maxSize)
	}
	return s.stage(file, fh.Filename)
}

func (s *Stager) stage(src io.Reader, filename string) ([]byte, error) {
	path := filepath.Join(s.dir, ksuid.New().String()+"_"+sanitize(filename))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			util.Logger.Warn("failed to delete staged upload", zap.String("file", path), zap.Error(err))
		}
	}()

	buf := make([]byte, chunkSize)
	_, err = io.CopyBuffer(dst, io.LimitReader(src, s.maxSize+1), buf)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, s.maxSize)
	}
	if err := checkImage(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Sweep 删除遗留超过 olderThan 的暂存文件
func (s *Stager) Sweep(olderThan time.Duration) (int, error) {
	return util.SweepDir(s.dir, olderThan)
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
