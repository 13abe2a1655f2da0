package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/instaxemu/internal/auth"
	"github.com/danmuck/instaxemu/internal/emulator"
	"github.com/danmuck/instaxemu/internal/events"
	"github.com/danmuck/instaxemu/internal/observability"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 5 * time.Second

type Config struct {
	ID          string
	Addr        string
	CorsOrigins []string
	// Token, when set, is required on every mutating route.
	Token string
}

// Printer is everything the panel reads and changes. Persister may be nil,
// in which case changes live only in memory.
type Printer struct {
	Store     *state.Store
	Profile   model.Profile
	Files     *storage.FileStore
	Session   *emulator.Session
	Persister *state.Persister
	// Events reports job events not yet published. May be nil.
	Events EventQueue
}

// EventQueue is the view of the job event sink the panel shows.
type EventQueue interface {
	PendingCount() int
	Pending() []events.Pending
}

// Server is the HTTP control panel for one emulated printer.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	printer Printer
	router  *gin.Engine
	token   string
}

func New(cfg Config, p Printer) *Server {
	if cfg.ID == "" {
		cfg.ID = "instaxemu"
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	modelName := p.Profile.ID.String()
	r.Use(observability.RequestLogger(log.Logger, modelName))
	r.Use(observability.RequestMetricsMiddleware(modelName))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", auth.HeaderToken},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       cfg.ID,
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		printer:  p,
		router:   r,
		token:    cfg.Token,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Run serves until ctx is done, then drains open requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("control panel listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
