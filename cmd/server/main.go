package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"nickchat/internal/auth"
	"nickchat/internal/config"
	"nickchat/internal/server"
	"nickchat/internal/store"
)

func buildStore(cfg config.Config) (store.Store, error) {
	var st store.Store
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		sqlite, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st = sqlite
	default:
		st = store.NewMemory()
	}

	if cfg.RedisURL != "" {
		client, err := store.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		st = store.NewCachedUsers(st, client, 0)
	}
	return st, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)
	st, err := buildStore(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	tokenCfg := auth.TokenConfig{
		Secret: cfg.SessionSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "nickchat",
	}

	router := server.NewRouter(server.Deps{Store: st, TokenConfig: tokenCfg, StaticDir: cfg.StaticDir})
	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	log.Fatal(server.Run(cfg, router))
}
