// Package api is the HTTP surface: exception ingest, tenant-scoped
// reads, the human approval endpoints driving the playbook engine, and
// the admin operations (tool enablement, DLQ replay, alerts).
//
// Every failure body has the same shape: {code, message, retryable},
// with the code taken from the errs taxonomy.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/playbook"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// EventSink publishes pipeline events; satisfied by worker.Sink.
type EventSink interface {
	Emit(ctx context.Context, event *bus.Event) error
}

// Server wires the handlers to the stores, the broker and the playbook
// engine. db may be nil when the platform runs on in-memory stores.
type Server struct {
	stores   *store.Stores
	sink     EventSink
	executor *playbook.Executor
	broker   bus.Broker
	db       *database.Client
	metrics  *metrics.Registry

	httpSrv *http.Server
}

// NewServer creates the API server. db and metrics may be nil.
func NewServer(stores *store.Stores, sink EventSink, executor *playbook.Executor,
	broker bus.Broker, db *database.Client, m *metrics.Registry) *Server {
	return &Server{
		stores:   stores,
		sink:     sink,
		executor: executor,
		broker:   broker,
		db:       db,
		metrics:  m,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), securityHeaders())

	router.GET("/healthz", s.Health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.metrics.Prometheus(), promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/exceptions", s.CreateException)

	// Tenant-scoped routes read the tenant from the X-Tenant-ID header.
	scoped := v1.Group("", tenantRequired())
	scoped.GET("/exceptions", s.ListExceptions)
	scoped.GET("/exceptions/:id", s.GetException)
	scoped.GET("/exceptions/:id/events", s.ListExceptionEvents)
	scoped.POST("/exceptions/:id/steps/:order/complete", s.CompleteStep)
	scoped.POST("/exceptions/:id/steps/:order/skip", s.SkipStep)
	scoped.GET("/approvals", s.ListApprovals)
	scoped.POST("/tools/:id/enable", s.EnableTool)
	scoped.POST("/tools/:id/disable", s.DisableTool)
	scoped.GET("/dlq", s.ListDeadLetters)
	scoped.POST("/dlq/:id/retry", s.RetryDeadLetter)
	scoped.POST("/dlq/:id/discard", s.DiscardDeadLetter)
	scoped.GET("/alerts", s.ListAlerts)
	scoped.POST("/alerts/:id/ack", s.AcknowledgeAlert)
	scoped.POST("/alerts/:id/resolve", s.ResolveAlert)

	return router
}

// Start begins serving on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
