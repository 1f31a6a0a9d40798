package rembg

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("invalid removal options")
	ErrSessionConstruction = errors.New("session construction failed")
	ErrInference           = errors.New("background removal failed")
	ErrImageTooLarge       = errors.New("image dimensions too large")
)

// ValidationError 参数越界或取值非法
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
