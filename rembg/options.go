package rembg

import "fmt"

const (
	DefaultForegroundThreshold = 240
	DefaultBackgroundThreshold = 10
	DefaultErodeSize           = 10
)

// Options 一次去背景请求的参数
type Options struct {
	Model               Model
	AlphaMatting        bool
	ForegroundThreshold int
	BackgroundThreshold int
	ErodeSize           int
	OnlyMask            bool
	PostProcessMask     bool
}

func DefaultOptions() Options {
	return Options{
		Model:               DefaultModel,
		ForegroundThreshold: DefaultForegroundThreshold,
		BackgroundThreshold: DefaultBackgroundThreshold,
		ErodeSize:           DefaultErodeSize,
	}
}

func (o Options) Validate() error {
	if !o.Model.Valid() {
		return &ValidationError{Field: "model", Reason: fmt.Sprintf("unsupported model %q", o.Model)}
	}
	if o.ForegroundThreshold < 0 || o.ForegroundThreshold > 255 {
		return &ValidationError{Field: "af", Reason: fmt.Sprintf("foreground threshold %d out of range [0,255]", o.ForegroundThreshold)}
	}
	if o.BackgroundThreshold < 0 || o.BackgroundThreshold > 255 {
		return &ValidationError{Field: "ab", Reason: fmt.Sprintf("background threshold %d out of range [0,255]", o.BackgroundThreshold)}
	}
	if o.ErodeSize < 0 {
		return &ValidationError{Field: "ae", Reason: fmt.Sprintf("erode size %d must be >= 0", o.ErodeSize)}
	}
	return nil
}

// Key 稳定的参数摘要，用于结果缓存
func (o Options) Key() string {
	return fmt.Sprintf("%s:a=%t:af=%d:ab=%d:ae=%d:om=%t:ppm=%t",
		o.Model, o.AlphaMatting, o.ForegroundThreshold, o.BackgroundThreshold, o.ErodeSize, o.OnlyMask, o.PostProcessMask)
}
