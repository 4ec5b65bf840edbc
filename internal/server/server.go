package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/boltbuttar/campusgate/internal/gateway"
	"github.com/boltbuttar/campusgate/internal/portal"
	"github.com/boltbuttar/campusgate/internal/publish"
	"github.com/boltbuttar/campusgate/internal/router"
	"github.com/boltbuttar/campusgate/internal/server/middleware"
	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/boltbuttar/campusgate/pkg/config"
	"github.com/boltbuttar/campusgate/pkg/state"
	"github.com/boltbuttar/campusgate/pkg/state/registry"
	"github.com/boltbuttar/campusgate/pkg/transport"
	"github.com/coder/websocket"
)

type App struct {
	logger     *slog.Logger
	reg        state.Registry
	supervisor *gateway.Supervisor
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	policy, err := router.PolicyFromConfig(cfg.Rooms.Protected)
	if err != nil {
		return nil, fmt.Errorf("invalid room policy: %w", err)
	}

	reg := registry.NewInMemoryRegistry(logger)
	broadcastRouter := router.NewRouter(logger, reg, policy)
	verifier := auth.NewVerifier(cfg.Server.Auth.JWTSecret)
	issuer := auth.NewIssuer(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.TokenTTL)
	supervisor := gateway.NewSupervisor(logger, reg, broadcastRouter, verifier)
	publisher := publish.NewPublisher(logger, broadcastRouter)
	handlers := portal.NewHandlers(logger, portal.NewStore(), issuer, publisher, cfg.Portal)

	app := &App{
		logger:     logger,
		reg:        reg,
		supervisor: supervisor,
		config:     cfg,
		ctx:        rootCtx,
	}

	mux := http.NewServeMux()

	// admission is unconditional; room joins carry the credentials, so the
	// websocket route has no auth middleware
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				reg.CountByIP,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	baseChain := func(h http.Handler, extra ...middleware.Middleware) http.Handler {
		chain := append([]middleware.Middleware{
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
		}, extra...)
		return middleware.Chain(h, chain...)
	}
	adminAuth := middleware.NewAuthMiddleware(logger, verifier, auth.RoleAdmin)
	studentAuth := middleware.NewAuthMiddleware(logger, verifier, auth.RoleStudent)

	mux.Handle("POST /auth/login", baseChain(http.HandlerFunc(handlers.AdminLogin)))
	mux.Handle("POST /auth/student/login", baseChain(http.HandlerFunc(handlers.StudentLogin)))
	mux.Handle("POST /admin/students", baseChain(http.HandlerFunc(handlers.CreateStudent), adminAuth))
	mux.Handle("DELETE /admin/students/{id}", baseChain(http.HandlerFunc(handlers.DeleteStudent), adminAuth))
	mux.Handle("POST /admin/courses", baseChain(http.HandlerFunc(handlers.CreateCourse), adminAuth))
	mux.Handle("PUT /admin/courses/{id}", baseChain(http.HandlerFunc(handlers.UpdateCourse), adminAuth))
	mux.Handle("GET /student/courses", baseChain(http.HandlerFunc(handlers.ListCourses), studentAuth))

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.supervisor.HandleMessage,
		a.supervisor.HandleClose,
		a.logger,
	)

	if _, err := a.supervisor.HandleOpen(conn, reqMeta.IP); err != nil {
		connLogger.Error("Failed to admit connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	connLogger.Info("Connection admitted", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.reg.All() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
