package server

import (
	"fmt"
	"net/http"
	"time"

	"intake/internal/cache"
	"intake/internal/config"
	"intake/internal/controller"
	"intake/internal/database"
	"intake/internal/rabbitmq"
)

type Server struct {
	ic     *controller.ImportController
	db     database.Database
	cache  cache.Cache
	rabbit rabbitmq.Client
	config config.Config
}

// New wires the HTTP surface over an already-constructed import
// controller. db, cache and rabbit are only used for health reporting and
// may be nil.
func New(cfg config.Config, ic *controller.ImportController, db database.Database, c cache.Cache, rabbit rabbitmq.Client) *http.Server {
	server := Server{
		ic:     ic,
		db:     db,
		cache:  c,
		rabbit: rabbit,
		config: cfg,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", cfg.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
