package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ecozmo/robobridge/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port           uint
	httpLog        bool
	rootContext    *actor.RootContext
	bridgeActor    *actor.PID
	metrics        *serverMetrics
	initTimeout    time.Duration
	commandTimeout time.Duration
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, bridgeActor *actor.PID) *http.Server {
	NewServer := &Server{
		port:           cfg.Port,
		rootContext:    rootContext,
		bridgeActor:    bridgeActor,
		httpLog:        cfg.HttpLog,
		metrics:        newServerMetrics(),
		initTimeout:    time.Duration(cfg.InitTimeoutMillis)*time.Millisecond + 10*time.Second,
		commandTimeout: time.Duration(cfg.CommandTimeoutMillis)*time.Millisecond + 5*time.Second,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
