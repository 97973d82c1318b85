// Command stockpool runs the pooled analysis dispatcher: a worker pool of UCI engines serving
// both whole-game batch analysis and low-latency live position analysis over HTTP/SSE.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/herohde/stockpool/config"
	"github.com/herohde/stockpool/pkg/analysis"
	"github.com/herohde/stockpool/pkg/live"
	"github.com/herohde/stockpool/pkg/pool"
	"github.com/herohde/stockpool/pkg/store"
	"github.com/herohde/stockpool/pkg/store/memstore"
	"github.com/herohde/stockpool/pkg/store/pgstore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/seekerror/build"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
)

var version = build.NewVersion(0, 1, 0)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logw.Infof(ctx, "stockpool %v starting: engine=%v poolSize=%v", version, cfg.EnginePath, cfg.PoolSize)

	p, err := pool.New(ctx, pool.Config{
		EnginePath:       cfg.EnginePath,
		PoolSize:         cfg.PoolSize,
		ReservedForLive:  cfg.ReservedForLive,
		ThreadsPerWorker: cfg.ThreadsPerWorker,
		HashPerWorkerMB:  cfg.HashPerWorkerMB,
		MaxQueueSize:     cfg.PoolMaxQueue,
		TaskTimeout:      cfg.TaskTimeout,
	})
	if err != nil {
		logw.Exitf(ctx, "Failed to start pool: %v", err)
	}
	defer p.Shutdown(context.Background())

	s := openStore(ctx, cfg)
	a := analysis.New(p, s)
	liveMgr := live.NewManager(p, cfg.LiveSessionIdleTimeout, cfg.LiveSessionGCInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	registerRoutes(e, p, a, liveMgr)

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logw.Exitf(ctx, "HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logw.Infof(context.Background(), "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) store.Store {
	if cfg.DatabaseURL == "" {
		logw.Warningf(ctx, "DATABASE_URL not set, using in-memory store")
		return memstore.New()
	}

	s, err := pgstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logw.Exitf(ctx, "Failed to connect to Postgres: %v", err)
	}
	return s
}

func registerRoutes(e *echo.Echo, p *pool.Pool, a *analysis.Analyzer, liveMgr *live.Manager) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, p.Stats())
	})

	e.POST("/games/:id/analyze", func(c echo.Context) error {
		gameID := c.Param("id")

		var body struct {
			Depth            int  `json:"depth"`
			SkipOpeningPlies int  `json:"skipOpeningPlies"`
			MaxPositions     *int `json:"maxPositions"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, errBody(err))
		}

		opt := analysis.Options{Depth: body.Depth, SkipOpeningPlies: body.SkipOpeningPlies}
		if body.MaxPositions != nil {
			opt.MaxPositions = lang.Some(*body.MaxPositions)
		}

		result, err := a.AnalyzeGame(c.Request().Context(), gameID, opt)
		if err != nil {
			return mapAnalysisError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	})

	e.POST("/live/session", func(c echo.Context) error {
		var body struct {
			SessionID string `json:"sessionId"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, errBody(err))
		}

		_, unsub, err := liveMgr.CreateSession(c.Request().Context(), body.SessionID)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, errBody(err))
		}
		unsub() // the REST handshake doesn't hold a subscription; /live/events does

		return c.NoContent(http.StatusCreated)
	})

	e.POST("/live/position", func(c echo.Context) error {
		var body struct {
			SessionID string        `json:"sessionId"`
			FEN       string        `json:"fen"`
			Settings  live.Settings `json:"settings"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, errBody(err))
		}

		if err := liveMgr.AnalyzePosition(c.Request().Context(), body.SessionID, body.FEN, body.Settings); err != nil {
			return c.JSON(http.StatusBadRequest, errBody(err))
		}
		return c.NoContent(http.StatusAccepted)
	})

	e.GET("/live/events", func(c echo.Context) error {
		sessionID := c.QueryParam("sessionId")

		// The session must already exist; subscribing doesn't create one (§4.4 createSession is
		// a separate operation from subscribing to its event stream).
		events, unsub, err := liveMgr.Subscribe(sessionID)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, errBody(err))
		}
		defer unsub()

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set("Cache-Control", "no-cache")
		c.Response().WriteHeader(http.StatusOK)

		enc := json.NewEncoder(c.Response())
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				c.Response().Write([]byte("event: " + string(ev.Type) + "\ndata: "))
				_ = enc.Encode(ev)
				c.Response().Write([]byte("\n"))
				c.Response().Flush()
			case <-c.Request().Context().Done():
				return nil
			}
		}
	})
}

func mapAnalysisError(c echo.Context, err error) error {
	if errors.Is(err, analysis.ErrAlreadyAnalyzing) {
		return c.JSON(http.StatusConflict, errBody(err))
	}
	return c.JSON(http.StatusInternalServerError, errBody(err))
}

func errBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
