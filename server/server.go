package server

import (
	"github.com/gin-gonic/gin"
	"github.com/jrife/plover/command"
	"go.uber.org/zap"
)

// ServerConfig contains configuration for a server
type ServerConfig struct {
	// Logger is the logger used by the server
	Logger *zap.Logger
	// Processor executes the commands received over the wire
	Processor *command.Processor
}

// Server exposes the command protocol over HTTP. A request body is a
// single command line; the response body is the formatted outcome as
// text/plain, 200 on success and 400 on error.
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	processor *command.Processor
}

// New creates a server
func New(config ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		logger:    config.Logger,
		processor: config.Processor,
	}

	if server.logger == nil {
		server.logger = zap.L()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/", server.handleCommand)
	router.POST("/command", server.handleCommand)
	server.router = router

	return server
}

// Router exposes the underlying router so tests can drive the server
// without a listener
func (server *Server) Router() *gin.Engine {
	return server.router
}

// Run serves on addr until the listener fails
func (server *Server) Run(addr string) error {
	server.logger.Info("listening", zap.String("addr", addr))

	return server.router.Run(addr)
}
