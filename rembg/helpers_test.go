package rembg

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/chaos-io/rembg-api/util"
)

// fakeSession 左半边背景、右半边前景
type fakeSession struct {
	model  Model
	calls  atomic.Int32
	fail   bool
	closed atomic.Bool
}

func (s *fakeSession) Model() Model { return s.model }

func (s *fakeSession) Predict(_ context.Context, img image.Image) (*image.Gray, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.New("model choked")
	}
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := b.Dx() / 2; x < b.Dx(); x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return mask, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type countingFactory struct {
	mu      sync.Mutex
	created map[Model]int
	err     error
}

func newCountingFactory() *countingFactory {
	return &countingFactory{created: make(map[Model]int)}
}

func (f *countingFactory) New(model Model) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[model]++
	if f.err != nil {
		return nil, f.err
	}
	return &fakeSession{model: model}, nil
}

func (f *countingFactory) count(model Model) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[model]
}

func testPNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 100, A: 255})
		}
	}
	data, err := util.EncodePNG(img)
	if err != nil {
		panic(err)
	}
	return data
}

// declaredPNG 1×1 的 PNG，IHDR 改写为 w×h
func declaredPNG(w, h uint32) []byte {
	data, err := util.EncodePNG(image.NewGray(image.Rect(0, 0, 1, 1)))
	if err != nil {
		panic(err)
	}
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}
