package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg-api/ingress"
	"github.com/chaos-io/rembg-api/rembg"
	"github.com/chaos-io/rembg-api/sink"
	"github.com/chaos-io/rembg-api/util"
	"github.com/chaos-io/rembg-api/worker"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	var verrs validator.ValidationErrors
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, rembg.ErrValidation), errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, ingress.ErrInvalidURL), errors.Is(err, rembg.ErrInference):
		return http.StatusBadRequest
	case errors.Is(err, ingress.ErrTooLarge), errors.Is(err, rembg.ErrImageTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingress.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, rembg.ErrSessionConstruction), errors.Is(err, sink.ErrStorage), errors.Is(err, ingress.ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// bindError 把 gin 绑定错误整理为 ValidationError
func bindError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("%w: request body exceeds %d bytes", ingress.ErrTooLarge, maxBytes.Limit)
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &rembg.ValidationError{Field: "request", Reason: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		if fe.Param() != "" {
			reasons = append(reasons, fe.Field()+" failed "+fe.Tag()+"="+fe.Param())
		} else {
			reasons = append(reasons, fe.Field()+" failed "+fe.Tag())
		}
	}
	return &rembg.ValidationError{Field: strings.Join(fields, ","), Reason: strings.Join(reasons, "; ")}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		util.Logger.Error("request failed", fields...)
	} else {
		util.Logger.Warn("request rejected", fields...)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}
