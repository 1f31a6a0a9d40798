package server

import (
	"github.com/gin-gonic/gin"
)

// NewRouter 注册路由；staticDir 为结果目录，以 Store 的前缀对外提供
func NewRouter(h *Handler, allowOrigins []string, staticPrefix, staticDir string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger())
	r.Use(CORS(allowOrigins))

	r.Static(staticPrefix, staticDir)

	r.GET("/", h.Index)
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/remove", h.RemoveFromURL)
		api.POST("/remove", h.RemoveFromUpload)
	}
	return r
}
