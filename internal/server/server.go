package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/meetingmind/config"
	"github.com/mohammad-safakhou/meetingmind/internal/broadcast"
	"github.com/mohammad-safakhou/meetingmind/internal/finalize"
	"github.com/mohammad-safakhou/meetingmind/internal/insight"
	"github.com/mohammad-safakhou/meetingmind/internal/pipeline"
	"github.com/mohammad-safakhou/meetingmind/internal/queue/streams"
	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
	"github.com/mohammad-safakhou/meetingmind/internal/store"
	"github.com/mohammad-safakhou/meetingmind/internal/stt"
	"github.com/mohammad-safakhou/meetingmind/models"
	"github.com/mohammad-safakhou/meetingmind/provider"
	"github.com/mohammad-safakhou/meetingmind/session"
)

// Live is the pipeline surface the meeting sockets drive.
type Live interface {
	Start(ctx context.Context, meetingID string, opts ...pipeline.StartOption) (*pipeline.Ingest, error)
	Attach(meetingID, userID string) (*pipeline.Ingest, error)
	Owner(meetingID string) (owner string, ok bool)
	Active() []string
}

// Subscriptions hands out live event feeds.
type Subscriptions interface {
	Subscribe(meetingID string) *broadcast.Subscriber
}

// MeetingStore reads stored meetings.
type MeetingStore interface {
	GetMeeting(ctx context.Context, meetingID string) (models.Meeting, error)
	ListMeetings(ctx context.Context, userID string, limit int) ([]models.Meeting, error)
	ListSegments(ctx context.Context, meetingID string) ([]models.Segment, error)
	ListActionItems(ctx context.Context, meetingID string) ([]models.ActionItem, error)
}

// JobEnqueuer queues post-processing work.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) error
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Live   Live
	Hub    Subscriptions
	Store  MeetingStore
	Jobs   JobEnqueuer
	// Shares enables share links when set; PublicURL prefixes their address.
	Shares    ShareStore
	PublicURL string
	Secret    []byte
	Logger    *log.Logger
}

// NewRouter mounts every route on a fresh echo instance.
func NewRouter(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	baseLogger := d.Logger
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth := runtime.EchoAuthMiddleware(d.Secret)

	ws := &SocketHandler{Live: d.Live, Hub: d.Hub, Meetings: d.Store, Logger: d.Logger}
	ws.Register(e.Group("/ws/meetings", auth))

	mh := &MeetingsHandler{Store: d.Store, Jobs: d.Jobs, Live: d.Live, Shares: d.Shares}
	api := e.Group("/api/meetings", auth)
	mh.Register(api)
	if d.Shares != nil {
		sh := &ShareHandler{Meetings: mh, Shares: d.Shares, BaseURL: d.PublicURL}
		sh.Register(api)
		sh.RegisterPublic(e)
	}
	return e
}

// Run wires the live pipeline from cfg and serves until ctx is cancelled.
// Live sessions are finalized before Run returns.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	if err := cfg.STT.Validate(); err != nil {
		return err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return err
	}
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	tele, _, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: "meetingmind-api"})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tele.Shutdown(sctx)
	}()

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		logger.Printf("migrations: %v", err)
	}
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}
	defer rdb.Close()
	jobs, err := streams.NewJobQueue(rdb, cfg.Queue)
	if err != nil {
		return err
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	pc := cfg.Pipeline
	reg := session.NewRegistry(pc.InsightBatchSize)
	hub := broadcast.NewHub(pc.SubscriberBuffer, nil)
	extractor := insight.NewExtractor(llm, hub, st, pc.InsightTimeout, nil)
	finalizer := finalize.NewManager(reg, llm, st, jobs, finalize.Options{
		CharBudget:     pc.SummaryCharBudget,
		SummaryTimeout: pc.SummaryTimeout,
		Grace:          pc.FinalizeGrace,
	}, nil)
	svc := pipeline.NewService(reg, stt.NewDeepgramDialer(cfg.STT, nil), hub, st, extractor, finalizer, pipeline.Options{
		DisconnectGrace:  pc.DisconnectGrace,
		DrainTimeout:     pc.DrainTimeout,
		MaxReconnects:    cfg.STT.MaxReconnects,
		ReconnectBackoff: cfg.STT.ReconnectBackoff,
	}, nil)

	e := NewRouter(Deps{
		Live:      svc,
		Hub:       hub,
		Store:     st,
		Jobs:      jobs,
		Shares:    st,
		PublicURL: cfg.General.PublicURL,
		Secret:    secret,
		Logger:    logger,
	})

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), pc.DrainTimeout+pc.SummaryTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	svc.Shutdown(sctx)
	return nil
}
