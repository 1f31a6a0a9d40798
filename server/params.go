package server

import (
	"fmt"
	"strings"

	"github.com/chaos-io/rembg-api/rembg"
)

// Flag 布尔参数，接受 1/0、true/false、t/f、yes/no、y/n、on/off，不区分大小写
type Flag bool

func (f *Flag) UnmarshalParam(param string) error {
	switch strings.ToLower(strings.TrimSpace(param)) {
	case "", "0", "f", "false", "n", "no", "off":
		*f = false
	case "1", "t", "true", "y", "yes", "on":
		*f = true
	default:
		return fmt.Errorf("invalid boolean value %q", param)
	}
	return nil
}

// Params 去背景参数，GET 从 query 绑定，POST 从表单或 query 绑定
type Params struct {
	Model           string `form:"model" binding:"omitempty,oneof=u2net u2netp u2net_human_seg u2net_cloth_seg"`
	AlphaMatting    Flag   `form:"a"`
	ForegroundThres int    `form:"af,default=240" binding:"min=0,max=255"`
	BackgroundThres int    `form:"ab,default=10" binding:"min=0,max=255"`
	ErodeSize       int    `form:"ae,default=10" binding:"min=0"`
	OnlyMask        Flag   `form:"om"`
	PostProcessMask Flag   `form:"ppm"`
}

// URLParams GET /api/remove
type URLParams struct {
	Params
	URL string `form:"url" binding:"required"`
}

func (p Params) Options() (rembg.Options, error) {
	model, err := rembg.ParseModel(p.Model)
	if err != nil {
		return rembg.Options{}, err
	}
	o := rembg.Options{
		Model:               model,
		AlphaMatting:        bool(p.AlphaMatting),
		ForegroundThreshold: p.ForegroundThres,
		BackgroundThreshold: p.BackgroundThres,
		ErodeSize:           p.ErodeSize,
		OnlyMask:            bool(p.OnlyMask),
		PostProcessMask:     bool(p.PostProcessMask),
	}
	if err := o.Validate(); err != nil {
		return rembg.Options{}, err
	}
	return o, nil
}
