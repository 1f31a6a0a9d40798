package rembg

import (
	"context"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestONNXFactory_MissingModel(t *testing.T) {
	factory := NewONNXFactory(ONNXConfig{ModelDir: t.TempDir()})

	_, err := factory(U2Net)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	cache := NewSessionCache(factory)
	_, err = cache.GetOrCreate(U2Net)
	assert.ErrorIs(t, err, ErrSessionConstruction)
	assert.Equal(t, 0, cache.Len())
}

func TestONNXConfig_ModelPath(t *testing.T) {
	cfg := ONNXConfig{ModelDir: "/models"}
	assert.Equal(t, "/models/u2net_human_seg.onnx", cfg.ModelPath(U2NetHumanSeg))
}

// 需要本地模型与 onnxruntime 动态库: REMBG_TEST_MODEL_DIR=./models
func TestONNXSession_Integration(t *testing.T) {
	dir := os.Getenv("REMBG_TEST_MODEL_DIR")
	if dir == "" {
		t.Skip("REMBG_TEST_MODEL_DIR not set")
	}
	cfg := ONNXConfig{
		ModelDir:          dir,
		SharedLibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
		IntraOpNumThreads: 1,
		InterOpNumThreads: 1,
	}
	if _, err := os.Stat(cfg.ModelPath(U2NetP)); err != nil {
		t.Skipf("model not found: %v", err)
	}

	cache := NewSessionCache(NewONNXFactory(cfg))
	defer func() {
		_ = cache.Close()
	}()

	p := NewPipeline(cache)
	opts := DefaultOptions()
	opts.Model = U2NetP
	out, err := p.Remove(context.Background(), testPNG(64, 48), opts)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
