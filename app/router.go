// Package app wires the analysis HTTP routes.
package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP router around one server instance.
func NewRouter(s *Server) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", s.Health)
	router.POST("/analyze", s.Analyze)
	router.GET("/analysis/status", s.GetStatus)
	router.GET("/analysis/snapshot", s.GetSnapshot)

	return router
}
