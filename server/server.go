// Package server assembles the edit-session services, the HTTP API and the
// background jobs into one process.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/profile"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/agent"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/cache"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/conversation"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/session"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/usage"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/observability"
	apiv1 "github.com/dx-tooling/sitebuilder-webapp-sub000/server/router/api/v1"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// ErrAgentNotConfigured fails every session when no LLM endpoint is configured.
var ErrAgentNotConfigured = errors.New("no LLM endpoint configured, set SITEBUILDER_LLM_API_KEY")

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	handler    *session.Handler
	runner     *session.Runner
	reaper     *conversation.Reaper
	costs      *cache.Service

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option customises a Server.
type Option func(*options)

type options struct {
	loop  agent.Loop
	clock clock.Clock
}

// WithLoop replaces the agent loop built from the profile.
func WithLoop(loop agent.Loop) Option {
	return func(o *options) { o.loop = loop }
}

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func NewServer(_ context.Context, p *profile.Profile, s *store.Store, opts ...Option) (*Server, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.loop == nil {
		o.loop = NewAgentLoop(p)
	}

	log := chunklog.NewLog(s, o.clock)
	machine := session.NewStateMachine(s, o.clock)
	coordinator := session.NewCoordinator(s, machine, o.clock)
	handler := session.NewHandler(s, log, coordinator, o.loop, o.clock, p.WorkspaceRoot)
	runner := session.NewRunner(handler, p.MaxConcurrentSessions)

	costs := cache.NewService(cache.DefaultConfig(), o.clock)
	usageService := usage.NewService(s, usage.NewTokenizer(), costs, usage.Config{
		ModelName:          p.LLMModel,
		MaxTokens:          p.LLMMaxTokens,
		SystemPromptTokens: p.SystemPromptTokens,
		Pricing:            usage.Pricing{InputPerMillion: p.InputPricePerM, OutputPerMillion: p.OutputPricePerM},
	})

	conversations := conversation.NewService(s, o.clock)
	sessions := session.NewService(s, log, conversations, coordinator, runner, usageService, o.clock)
	reaper := conversation.NewReaper(s, o.clock, conversation.ReaperConfig{
		Timeout:       p.ConversationTimeout,
		SweepInterval: p.ReaperInterval,
		CancelOrphans: p.CancelOrphanedSessions,
	}, coordinator)
	reaper.OnRelease(usageService)

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	apiv1.NewAPIV1Service(p, sessions, conversations, observability.NewMetrics()).RegisterRoutes(echoServer)

	return &Server{
		Profile:    p,
		Store:      s,
		echoServer: echoServer,
		handler:    handler,
		runner:     runner,
		reaper:     reaper,
		costs:      costs,
	}, nil
}

// NewAgentLoop builds the OpenAI loop, or a loop failing every turn when no
// endpoint is configured.
func NewAgentLoop(p *profile.Profile) agent.Loop {
	if !p.IsAgentConfigured() {
		slog.Warn("LLM endpoint not configured, edit sessions will fail")
		return agent.LoopFunc(func(context.Context, *agent.Request, agent.Emitter) (*agent.Result, error) {
			return nil, ErrAgentNotConfigured
		})
	}
	return agent.NewOpenAILoop(agent.OpenAIConfig{
		BaseURL: p.LLMBaseURL,
		APIKey:  p.LLMAPIKey,
		Model:   p.LLMModel,
	})
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start recovers sessions interrupted by a previous shutdown, starts the
// reaper and serves HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	report, err := s.handler.Recover(ctx, s.runner)
	if err != nil {
		return errors.Wrap(err, "failed to recover edit sessions")
	}
	if report.Requeued+report.Failed+report.Cancelled > 0 {
		slog.Info("recovered edit sessions",
			"requeued", report.Requeued, "failed", report.Failed, "cancelled", report.Cancelled)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.reaper.Start(ctx); err != nil {
		cancel()
		return errors.Wrap(err, "failed to start reaper")
	}

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.group, _ = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		slog.Info("sitebuilder server listening", "address", address)
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	return nil
}

// Wait blocks until the HTTP server stopped.
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Shutdown stops accepting requests, then waits for running sessions. Sessions
// still running when ctx expires are recorded as interrupted.
func (s *Server) Shutdown(ctx context.Context) {
	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", "error", err)
	}
	s.reaper.Stop()

	if err := s.runner.Shutdown(ctx); err != nil {
		slog.Warn("edit sessions interrupted by shutdown", "error", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.costs.Close()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
	slog.Info("server stopped properly")
}
