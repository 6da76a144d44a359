package approuters

import (
	"Roomchat/internal/configuration"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"syscall"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartServer runs the socket and application servers until a shutdown
// signal arrives, then stops them in order and returns the exit code.
func StartServer(container *configuration.Container) int {
	logger := container.Logger
	server := container.Config.Server

	socketServer := createSocketServer(container)
	appServer := createAppServer(container)

	// Start socket server
	go func() {
		logger.Info("socket server starting",
			zap.String("url", fmt.Sprintf("ws://localhost:%d/%s", server.SocketPort, server.SocketRoute)))
		if err := socketServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("socket server error", zap.Error(err))
			requestShutdown(logger)
		}
	}()

	// Start application server
	go func() {
		logger.Info("application server starting", zap.String("url", fmt.Sprintf("http://localhost:%d", server.AppPort)))
		if err := appServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("app server error", zap.Error(err))
			requestShutdown(logger)
		}
	}()

	shutdownTimeout := server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat": func(ctx context.Context) error {
				return shutdown(ctx, container, socketServer, appServer)
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", zap.Int("exit_code", exitCode))
	return exitCode
}

// shutdown stops accepting sockets, closes every connection with a close
// frame, drains the app server and finally releases storage.
func shutdown(ctx context.Context, container *configuration.Container, socketServer, appServer *http.Server) error {
	logger := container.Logger
	var errs []error

	logger.Info("shutting down socket server")
	if err := socketServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("socket server: %w", err))
	}

	logger.Info("stopping hub and closing all websocket connections")
	if err := container.Hub.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("hub: %w", err))
	}

	logger.Info("shutting down application server")
	if err := appServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app server: %w", err))
	}

	if err := container.Close(); err != nil {
		errs = append(errs, fmt.Errorf("container: %w", err))
	}

	if len(errs) == 0 {
		logger.Info("graceful shutdown complete")
	}
	return errors.Join(errs...)
}

// requestShutdown routes a listener failure through the same signal path as
// an operator's Ctrl+C.
func requestShutdown(logger *zap.Logger) {
	p, err := os.FindProcess(os.Getpid())
	if err == nil {
		err = p.Signal(syscall.SIGTERM)
	}
	if err != nil {
		logger.Error("failed to signal shutdown", zap.Error(err))
	}
}

func createSocketServer(container *configuration.Container) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/"+container.Config.Server.SocketRoute, container.Hub.ServeWS)

	// Hijacked websocket connections manage their own deadlines
	return &http.Server{
		Addr:        fmt.Sprintf(":%d", container.Config.Server.SocketPort),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

func createAppServer(container *configuration.Container) *http.Server {
	router := NewRouter(container)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", container.Config.Server.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter builds the gin engine of the application server.
func NewRouter(container *configuration.Container) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if container.Config.Log.Development {
		router.Use(gin.Logger())
	}

	// Configure CORS
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-Id"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := container.Config.Server.AllowedOrigins
	switch {
	case slices.Contains(origins, "*"):
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	case len(origins) == 0:
		corsConfig.AllowOriginFunc = func(string) bool { return false }
	default:
		corsConfig.AllowOrigins = origins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Welcome to Roomchat Application Server!",
		})
	})

	MonitorRouters(router, container)
	RoomRouters(router, container)

	return router
}
