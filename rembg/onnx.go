package rembg

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}

	envOnce sync.Once
	envErr  error
)

// ONNXConfig ONNX Runtime 会话配置
type ONNXConfig struct {
	// ModelDir 存放 <model>.onnx 的目录
	ModelDir string
	// SharedLibraryPath onnxruntime 动态库路径，为空时使用默认查找路径
	SharedLibraryPath string
	IntraOpNumThreads int
	InterOpNumThreads int
}

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to init ORT env: %w", err)
		}
	})
	return envErr
}

// DestroyEnvironment 释放 ONNX Runtime 环境，须在全部会话关闭后调用
func DestroyEnvironment() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ModelPath 模型文件路径
func (c ONNXConfig) ModelPath(model Model) string {
	return filepath.Join(c.ModelDir, model.String()+".onnx")
}

// NewONNXFactory 返回基于 ONNX Runtime 的会话工厂
func NewONNXFactory(cfg ONNXConfig) SessionFactory {
	return func(model Model) (Session, error) {
		modelPath := cfg.ModelPath(model)
		if _, err := os.Stat(modelPath); err != nil {
			return nil, fmt.Errorf("model artifact: %w", err)
		}
		if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
			return nil, err
		}

		inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read model io info: %w", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, fmt.Errorf("model %s has no inputs or outputs", modelPath)
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		defer func() {
			_ = options.Destroy()
		}()

		if cfg.IntraOpNumThreads > 0 {
			_ = options.SetIntraOpNumThreads(cfg.IntraOpNumThreads)
		}
		if cfg.InterOpNumThreads > 0 {
			_ = options.SetInterOpNumThreads(cfg.InterOpNumThreads)
		}
		_ = options.SetExecutionMode(ort.ExecutionModeSequential)
		_ = options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)

		session, err := ort.NewDynamicAdvancedSession(
			modelPath,
			[]string{inputs[0].Name},
			[]string{outputs[0].Name},
			options,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ONNX session: %w", err)
		}

		return &onnxSession{model: model, session: session}, nil
	}
}

type onnxSession struct {
	model   Model
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

func (s *onnxSession) Model() Model {
	return s.model
}

func (s *onnxSession) Predict(_ context.Context, img image.Image) (*image.Gray, error) {
	size := s.model.InputSize()
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), normalizeInput(img, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		_ = input.Destroy()
	}()

	outputs := []ort.Value{nil}
	s.mu.Lock()
	err = s.session.Run([]ort.Value{input}, outputs)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}

	mask, err := maskFromOutput(out.GetData(), []int64(out.GetShape()), s.model == U2NetClothSeg)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return resizeGray(mask, b.Dx(), b.Dy()), nil
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

// normalizeInput 缩放到 size×size，按最大像素值归一化后做 ImageNet 均值/方差标准化，输出 NCHW
func normalizeInput(img image.Image, size int) []float32 {
	resized := imaging.Resize(img, size, size, imaging.Lanczos)
	pix := resized.Pix
	stride := resized.Stride

	var maxVal uint8
	for y := 0; y < size; y++ {
		row := pix[y*stride : y*stride+size*4]
		for x := 0; x < size; x++ {
			maxVal = max(maxVal, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	scale := float32(math.Max(float64(maxVal), 1e-6))

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := pix[y*stride : y*stride+size*4]
		for x := 0; x < size; x++ {
			for c := 0; c < 3; c++ {
				v := float32(row[x*4+c]) / scale
				data[c*plane+y*size+x] = (v - mean[c]) / std[c]
			}
		}
	}
	return data
}

// maskFromOutput 把模型输出 [1,C,H,W] 转为灰度掩码。
// argmax 为 true 时按通道取最大类别，非 0 类别视为前景；否则对第一个通道做 min-max 归一化。
func maskFromOutput(data []float32, shape []int64, argmax bool) (*image.Gray, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	channels, h, w := int(shape[1]), int(shape[2]), int(shape[3])
	plane := h * w
	if channels < 1 || plane == 0 || len(data) < channels*plane {
		return nil, fmt.Errorf("output shape %v does not match %d values", shape, len(data))
	}

	mask := image.NewGray(image.Rect(0, 0, w, h))

	if argmax {
		for i := 0; i < plane; i++ {
			best, bestVal := 0, data[i]
			for c := 1; c < channels; c++ {
				if v := data[c*plane+i]; v > bestVal {
					best, bestVal = c, v
				}
			}
			if best != 0 {
				mask.Pix[i] = 255
			}
		}
		return mask, nil
	}

	lo, hi := data[0], data[0]
	for _, v := range data[:plane] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	for i, v := range data[:plane] {
		if span <= 0 {
			break
		}
		mask.Pix[i] = uint8(math.Round(float64((v - lo) / span * 255)))
	}
	return mask, nil
}
