package rembg

import (
	"fmt"
	"strings"
)

// Model 分割模型标识，取值限定在下列常量中
type Model string

const (
	U2Net         Model = "u2net"
	U2NetP        Model = "u2netp"
	U2NetHumanSeg Model = "u2net_human_seg"
	U2NetClothSeg Model = "u2net_cloth_seg"

	DefaultModel = U2Net
)

var models = []Model{U2Net, U2NetP, U2NetHumanSeg, U2NetClothSeg}

// Models 返回支持的全部模型
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// ParseModel 空字符串返回默认模型，未知取值返回校验错误
func ParseModel(s string) (Model, error) {
	if s == "" {
		return DefaultModel, nil
	}
	m := Model(strings.TrimSpace(s))
	if !m.Valid() {
		return "", &ValidationError{Field: "model", Reason: fmt.Sprintf("unsupported model %q", s)}
	}
	return m, nil
}

func (m Model) Valid() bool {
	for _, v := range models {
		if v == m {
			return true
		}
	}
	return false
}

func (m Model) String() string {
	return string(m)
}

// InputSize 模型输入边长
func (m Model) InputSize() int {
	if m == U2NetClothSeg {
		return 768
	}
	return 320
}
