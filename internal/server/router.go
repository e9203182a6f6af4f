package server

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	"nickchat/internal/auth"
	"nickchat/internal/registry"
	"nickchat/internal/store"
)

type Deps struct {
	Store       store.Store
	TokenConfig auth.TokenConfig
	StaticDir   string
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	reg := registry.New()
	engine := NewEngine(deps.Store, reg, deps.TokenConfig)
	wsHandler := &WebSocketHandler{Engine: engine, Registry: reg}
	r.GET("/ws", wsHandler.Serve)

	if deps.StaticDir != "" {
		r.Static("/public", deps.StaticDir)
		r.StaticFile("/", filepath.Join(deps.StaticDir, "index.html"))
	}

	return r
}
