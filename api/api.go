// Package api Chronicle API
//
//	@title			Chronicle API
//	@version		1.0
//	@description	Event ingest and alert rule management for Chronicle
//
// @license.name	MIT
// @license.url	https://opensource.org/licenses/MIT
//
// @host		localhost:8081
// @BasePath	/api/v1
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"chronicle/config"
	"chronicle/core"
	"chronicle/service"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RuleManager is the rule management surface, implemented by service.RuleService
type RuleManager interface {
	ListRules(ctx context.Context) ([]core.AlertRule, error)
	GetRule(ctx context.Context, id string) (*core.AlertRule, error)
	CreateRule(ctx context.Context, rule *core.AlertRule) error
	UpdateRule(ctx context.Context, id string, rule *core.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	CheckRule(rule *core.AlertRule) error
	DescribeRule(rule core.AlertRule) string
	TestRule(ctx context.Context, rule core.AlertRule, event *core.Event) bool
}

// DestinationStorer interface for destination storage
type DestinationStorer interface {
	ListDestinations(ctx context.Context) ([]core.Destination, error)
	GetDestination(ctx context.Context, id string) (*core.Destination, error)
	CreateDestination(ctx context.Context, d *core.Destination) error
	UpdateDestination(ctx context.Context, id string, d *core.Destination) error
	DeleteDestination(ctx context.Context, id string) error
}

// EventProcessor runs events through the alert pipeline
type EventProcessor interface {
	Process(ctx context.Context, event *core.Event) (*service.ProcessResult, error)
	Submit(event *core.Event) error
}

// DestinationTester sends test notifications and reports breaker state
type DestinationTester interface {
	Test(ctx context.Context, dest core.Destination) error
	BreakerState(destinationID string) core.CircuitBreakerState
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies groups the services the API is built on. Nil members disable
// the routes that need them with 503.
type Dependencies struct {
	Rules        RuleManager
	Destinations DestinationStorer
	Events       EventProcessor
	Tester       DestinationTester
	Health       HealthChecker
	Users        UserStorer
	RoleCache    RoleCache
}

// API represents the REST API server
type API struct {
	router       *mux.Router
	server       *http.Server
	serverMu     sync.Mutex
	config       *config.Config
	logger       *zap.SugaredLogger
	validate     *validator.Validate
	rules        RuleManager
	destinations DestinationStorer
	events       EventProcessor
	tester       DestinationTester
	health       HealthChecker
	users        UserStorer
	roleCache    RoleCache

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates a new API server
func NewAPI(deps Dependencies, config *config.Config, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	api := &API{
		router:       mux.NewRouter(),
		config:       config,
		logger:       logger,
		validate:     validator.New(),
		rules:        deps.Rules,
		destinations: deps.Destinations,
		events:       deps.Events,
		tester:       deps.Tester,
		health:       deps.Health,
		users:        deps.Users,
		roleCache:    deps.RoleCache,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestMetricsMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.authMiddleware)
	v1.HandleFunc("/events", a.ingestEvent).Methods("POST")

	v1.HandleFunc("/rules", a.getRules).Methods("GET")
	v1.HandleFunc("/rules", a.createRule).Methods("POST")
	v1.HandleFunc("/rules/validate", a.validateRule).Methods("POST")
	v1.HandleFunc("/rules/describe", a.describeRule).Methods("POST")
	v1.HandleFunc("/rules/test", a.testRule).Methods("POST")
	v1.HandleFunc("/rules/{id}", a.getRule).Methods("GET")
	v1.HandleFunc("/rules/{id}", a.updateRule).Methods("PUT")
	v1.HandleFunc("/rules/{id}", a.deleteRule).Methods("DELETE")
	v1.HandleFunc("/rules/{id}/enable", a.enableRule).Methods("POST")
	v1.HandleFunc("/rules/{id}/disable", a.disableRule).Methods("POST")

	v1.HandleFunc("/destinations", a.getDestinations).Methods("GET")
	v1.HandleFunc("/destinations", a.createDestination).Methods("POST")
	v1.HandleFunc("/destinations/{id}", a.getDestination).Methods("GET")
	v1.HandleFunc("/destinations/{id}", a.updateDestination).Methods("PUT")
	v1.HandleFunc("/destinations/{id}", a.deleteDestination).Methods("DELETE")
	v1.HandleFunc("/destinations/{id}/test", a.testDestination).Methods("POST")

	v1.HandleFunc("/users", a.getUsers).Methods("GET")
	v1.HandleFunc("/users/{id}", a.getUser).Methods("GET")
	v1.HandleFunc("/users/{id}", a.putUser).Methods("PUT")
	v1.HandleFunc("/users/{id}", a.deleteUser).Methods("DELETE")

	v1.HandleFunc("/presets", a.getPresets).Methods("GET")
}

// Handler exposes the router, mainly for tests
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server. It blocks until the server stops.
func (a *API) Start(addr string) error {
	return a.newServer(addr).ListenAndServe()
}

// StartTLS starts the API server with TLS
func (a *API) StartTLS(addr, certFile, keyFile string) error {
	return a.newServer(addr).ListenAndServeTLS(certFile, keyFile)
}

func (a *API) newServer(addr string) *http.Server {
	a.serverMu.Lock()
	defer a.serverMu.Unlock()
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadTimeout:       a.config.API.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.config.API.WriteTimeout,
	}
	return a.server
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.serverMu.Lock()
	server := a.server
	a.serverMu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
