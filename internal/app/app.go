package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/config"
	"github.com/wisbric/cartographer/internal/httpserver"
	"github.com/wisbric/cartographer/internal/platform"
	"github.com/wisbric/cartographer/internal/telemetry"
	"github.com/wisbric/cartographer/pkg/kvstore"
	"github.com/wisbric/cartographer/pkg/network"
	"github.com/wisbric/cartographer/pkg/notification"
	"github.com/wisbric/cartographer/pkg/proxy"
	"github.com/wisbric/cartographer/pkg/pubsubgw"
	"github.com/wisbric/cartographer/pkg/ratelimit"
	"github.com/wisbric/cartographer/pkg/snapshot"
	"github.com/wisbric/cartographer/pkg/usage"
	"github.com/wisbric/cartographer/pkg/user"
)

const serviceName = "cartographer"

// Run reads configuration, connects to infrastructure, and starts the
// requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting cartographer", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	deps, err := build(ctx, cfg, logger, db, rdb)
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, deps)
	case "worker":
		return runWorker(ctx, logger, deps)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// deps bundles the domain components shared between the api and worker
// modes, so both are built from identical wiring.
type deps struct {
	tm             *auth.TokenManager
	oidcAuth       *auth.OIDCAuthenticator
	oauth2Cfg      *oauth2.Config
	rateLimiter    *auth.RateLimiter
	userStore      *user.Store
	networkStore   *network.Store
	quotaEngine    *ratelimit.Engine
	aggregator     *snapshot.Aggregator
	publisher      *snapshot.Publisher
	gateway        *pubsubgw.Gateway
	dispatcher     *notification.Dispatcher
	scheduler      *notification.Scheduler
	broadcasts     *notification.BroadcastStore
	preferences    *notification.PreferencesStore
	history        *notification.History
	anomaly        *notification.AnomalyBaseline
	forwarder      *proxy.Forwarder
	usageTracker   *usage.Tracker
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*deps, error) {
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = auth.GenerateDevSecret()
		logger.Info("auth: using auto-generated dev JWT secret (set JWT_SECRET in production)")
	}
	tm, err := auth.NewTokenManager(jwtSecret, cfg.JWTAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("creating token manager: %w", err)
	}

	var oidcAuth *auth.OIDCAuthenticator
	var oauth2Cfg *oauth2.Config
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)

		if cfg.OIDCClientSecret != "" {
			oauth2Cfg = &oauth2.Config{
				ClientID:     cfg.OIDCClientID,
				ClientSecret: cfg.OIDCClientSecret,
				RedirectURL:  cfg.OIDCRedirectURL,
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint: oauth2.Endpoint{
					AuthURL:  cfg.OIDCIssuerURL + "/authorize",
					TokenURL: cfg.OIDCIssuerURL + "/oauth/token",
				},
			}
		}
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	kv := newKVStore(rdb)
	rateLimiter := auth.NewRateLimiter(kv, 10, 15*time.Minute)

	userStore := user.NewStore(db)
	networkStore := network.NewStore(db)

	quotaStore := ratelimit.NewPostgresStore(db)
	quotaEngine := ratelimit.NewEngine(kv, quotaStore, int64(cfg.DefaultDailyChatLimit), cfg.RoleExemptFromQuota)

	upstreams := snapshot.NewHTTPUpstreams(cfg.BackendServiceURL, cfg.HealthServiceURL)
	aggregator := snapshot.New(upstreams, logger)
	publishInterval := time.Duration(cfg.MetricsPublishInterval) * time.Second
	publisher := snapshot.NewPublisher(aggregator, networkListerAdapter{networkStore}, kv, logger, publishInterval)

	gateway := pubsubgw.New(kv, snapshotSourceAdapter{aggregator}, logger, snapshot.ChannelTopology)

	anomaly := notification.NewAnomalyBaseline(cfg.StateDir+"/anomaly_baseline.json", logger)
	history := notification.NewHistory(cfg.StateDir+"/notification_history.json", 1000, logger)
	broadcasts := notification.NewBroadcastStore(db)
	preferences := notification.NewPreferencesStore(db)

	registry := notification.NewRegistry()
	if cfg.SlackBotToken != "" {
		registry.Register(notification.NewSlackProvider(cfg.SlackBotToken, logger))
		logger.Info("slack notification channel enabled")
	} else {
		logger.Info("slack notification channel disabled (SLACK_BOT_TOKEN not set)")
	}
	if cfg.SMTPAddr != "" {
		registry.Register(notification.NewEmailProvider(cfg.SMTPAddr, cfg.SMTPFrom, "", "", logger))
		logger.Info("email notification channel enabled")
	} else {
		logger.Info("email notification channel disabled (SMTP_ADDR not set)")
	}

	window := ratelimit.NewSlidingWindow(time.Hour)
	dispatcher := notification.NewDispatcher(registry, window, history, logger)
	scheduler := notification.NewScheduler(broadcasts, networkStore, recipientResolverAdapter{userStore}, preferences, dispatcher, logger)
	router := notification.NewRouter(networkStore, recipientResolverAdapter{userStore}, preferences, dispatcher, logger)
	aggregator.SetSink(eventSinkAdapter{anomaly: anomaly, router: router, logger: logger})

	usageTracker := usage.New(kv, cfg.UsageBatchSize, time.Duration(cfg.UsageBatchIntervalSeconds)*time.Second, logger)
	forwarder := proxy.NewForwarder(usageTracker)

	return &deps{
		tm:           tm,
		oidcAuth:     oidcAuth,
		oauth2Cfg:    oauth2Cfg,
		rateLimiter:  rateLimiter,
		userStore:    userStore,
		networkStore: networkStore,
		quotaEngine:  quotaEngine,
		aggregator:   aggregator,
		publisher:    publisher,
		gateway:      gateway,
		dispatcher:   dispatcher,
		scheduler:    scheduler,
		broadcasts:   broadcasts,
		preferences:  preferences,
		history:      history,
		anomaly:      anomaly,
		forwarder:    forwarder,
		usageTracker: usageTracker,
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, d *deps) error {
	devMode := cfg.Env != "production"
	authMw := auth.Middleware(d.tm, d.oidcAuth, devMode, logger)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, httpserver.AuthMiddleware(authMw))

	// --- Public, pre-authentication routes ---

	loginHandler := auth.NewLoginHandler(d.tm, 24*time.Hour, userLookupAdapter{d.userStore}, logger, d.oidcAuth != nil)
	srv.Router.With(loginRateLimit(d.rateLimiter, logger)).Post("/auth/login", loginHandler.HandleLogin)
	srv.Router.Get("/auth/me", loginHandler.HandleMe)
	srv.Router.Post("/auth/logout", loginHandler.HandleLogout)
	srv.Router.Get("/auth/config", loginHandler.HandleAuthConfig)

	if d.oidcAuth != nil && d.oauth2Cfg != nil {
		oidcFlow := auth.NewOIDCFlowHandler(d.oauth2Cfg, d.oidcAuth, d.tm, 24*time.Hour, userSyncerAdapter{d.userStore}, rdb, logger)
		srv.Router.Get("/auth/oidc/login", oidcFlow.HandleLogin)
		srv.Router.Get("/auth/oidc/callback", oidcFlow.HandleCallback)
		logger.Info("OIDC Authorization Code flow enabled", "redirect_url", cfg.OIDCRedirectURL)
	}

	userHandler := user.NewHandler(d.userStore, d.tm, d.networkStore, logger)
	srv.Router.Mount("/auth", userHandler.Routes())

	srv.Router.With(authMw, auth.RequireAuth).Get("/ws", d.gateway.ServeHTTP)

	// --- Authenticated API routes ---

	networkHandler := network.NewHandler(d.networkStore, logger)
	srv.APIRouter.Mount("/networks", networkHandler.Routes())
	srv.APIRouter.With(auth.RequireMinRole(auth.RoleAdmin)).Mount("/invites", userHandler.InviteRoutes())

	snapshotHandler := snapshot.NewHandler(d.aggregator, d.publisher, logger)
	srv.APIRouter.Mount("/snapshots", snapshotHandler.Routes())

	notificationHandler := notification.NewHandler(d.preferences, d.broadcasts, d.history, d.anomaly, logger)
	srv.APIRouter.Route("/networks/{networkID}/notifications", func(r chi.Router) {
		r.Use(network.Resolver(d.networkStore, user.RoleMember))
		r.Mount("/", notificationHandler.Routes())
	})

	quotaHandler := ratelimit.NewHandler(d.quotaEngine, logger)
	srv.APIRouter.Mount("/quota", quotaHandler.Routes())

	usageHandler := usage.NewHandler(d.usageTracker)
	srv.APIRouter.With(auth.RequireRole(auth.RoleOwner)).Mount("/usage", usageHandler.Routes())

	for _, route := range []proxy.Route{
		{Name: "auth-service", TargetURL: cfg.AuthServiceURL},
		{Name: "metrics-service", TargetURL: cfg.MetricsServiceURL},
		{Name: "health-service", TargetURL: cfg.HealthServiceURL},
		{Name: "backend-service", TargetURL: cfg.BackendServiceURL, LongTimeout: true},
		{Name: "notification-service", TargetURL: cfg.NotificationServiceURL},
	} {
		srv.APIRouter.Get("/proxy/"+route.Name+"/*", d.forwarder.ServeRoute(route))
		srv.APIRouter.Post("/proxy/"+route.Name+"/*", d.forwarder.ServeRoute(route))
	}

	// Chat/speed-test streaming goes through the SSE-aware forwarder instead,
	// since those upstream calls respond with a long-lived text/event-stream
	// body rather than a single JSON payload.
	streamRoute := proxy.Route{Name: "backend-service-stream", TargetURL: cfg.BackendServiceURL, LongTimeout: true}
	srv.APIRouter.Get("/proxy/backend-service/stream/*", d.forwarder.ServeSSERoute(streamRoute))

	// Relay bus events into connected websocket clients.
	go d.gateway.Broadcast(ctx)
	go d.usageTracker.Run(ctx)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, logger *slog.Logger, d *deps) error {
	logger.Info("worker started")

	go d.scheduler.Run(ctx)
	go d.anomaly.Run(ctx)
	d.publisher.Run(ctx)
	return nil
}

// networkListerAdapter adapts network.Store to snapshot.NetworkLister.
type networkListerAdapter struct{ store *network.Store }

func (a networkListerAdapter) ListNetworkIDs(ctx context.Context) ([]string, error) {
	networks, err := a.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(networks))
	for i, n := range networks {
		ids[i] = n.ID
	}
	return ids, nil
}

// recipientResolverAdapter adapts user.Store to notification.RecipientResolver.
// SlackUserID is left empty: there is no Slack-account linkage on User, so
// the Slack provider skips every recipient this resolver returns.
type recipientResolverAdapter struct{ store *user.Store }

func (a recipientResolverAdapter) ResolveRecipient(ctx context.Context, userID string) (notification.Recipient, error) {
	u, err := a.store.FindByID(ctx, userID)
	if err != nil {
		return notification.Recipient{}, err
	}
	return notification.Recipient{UserID: u.ID, Email: u.Email}, nil
}

// userLookupAdapter adapts user.Store to auth.UserLookup.
type userLookupAdapter struct{ store *user.Store }

func (a userLookupAdapter) FindByEmail(ctx context.Context, email string) (*auth.LocalUser, error) {
	u, err := a.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auth.LocalUser{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		Role:         u.Role,
		PasswordHash: u.PasswordHash,
	}, nil
}

// userSyncerAdapter adapts user.Store to auth.UserSyncer, converting
// between the two packages' independently-declared ProviderIdentity and
// SyncResult shapes (auth's version tracks AvatarURL; user's tracks
// whether an existing account was newly linked rather than created).
type userSyncerAdapter struct{ store *user.Store }

func (a userSyncerAdapter) SyncProviderUser(ctx context.Context, identity auth.ProviderIdentity, createIfMissing bool) (auth.SyncResult, error) {
	result, err := a.store.SyncProviderUser(ctx, user.ProviderIdentity{
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		Email:          identity.Email,
		DisplayName:    identity.DisplayName,
	}, createIfMissing)
	if err != nil {
		return auth.SyncResult{}, err
	}
	return auth.SyncResult{
		UserID:  result.UserID,
		Created: result.Created,
		Updated: result.Linked,
	}, nil
}

// snapshotSourceAdapter adapts snapshot.Aggregator to pubsubgw.SnapshotSource.
type snapshotSourceAdapter struct{ aggregator *snapshot.Aggregator }

func (a snapshotSourceAdapter) LastSnapshotJSON(networkID string) ([]byte, bool) {
	snap := a.aggregator.Last(networkID)
	if snap == nil {
		return nil, false
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func newKVStore(rdb *redis.Client) *kvstore.Store {
	return kvstore.New(rdb)
}

// eventSinkAdapter adapts *notification.AnomalyBaseline and
// *notification.Router to snapshot.EventSink, so the aggregator can feed
// live device signals into the notification package without either
// package importing the other's concrete types.
type eventSinkAdapter struct {
	anomaly *notification.AnomalyBaseline
	router  *notification.Router
	logger  *slog.Logger
}

func (a eventSinkAdapter) ObserveDevice(obs snapshot.DeviceObservation) {
	a.anomaly.Train(obs.DeviceIP, obs.Success, obs.LatencyMs, obs.PacketLossPct, obs.At)
}

func (a eventSinkAdapter) NotifyTransition(t snapshot.StatusTransition) {
	priority := transitionPriority(t.CurrentState)
	event := notification.NetworkEvent{
		EventType:     "device_status_change",
		Title:         fmt.Sprintf("%s is now %s", deviceLabel(t.DeviceName, t.DeviceIP), t.CurrentState),
		Message:       fmt.Sprintf("%s changed from %s to %s", deviceLabel(t.DeviceName, t.DeviceIP), t.PreviousState, t.CurrentState),
		DeviceIP:      t.DeviceIP,
		DeviceName:    t.DeviceName,
		PreviousState: string(t.PreviousState),
		CurrentState:  string(t.CurrentState),
		Priority:      &priority,
		OccurredAt:    t.At,
	}
	a.router.Notify(context.Background(), t.NetworkID, event)
}

func deviceLabel(name, ip string) string {
	if name != "" {
		return name
	}
	return ip
}

// transitionPriority maps a device's new health status to the urgency a
// status-change notification should carry.
func transitionPriority(current snapshot.HealthStatus) notification.Priority {
	switch current {
	case snapshot.HealthUnhealthy:
		return notification.PriorityCritical
	case snapshot.HealthDegraded:
		return notification.PriorityHigh
	default:
		return notification.PriorityMedium
	}
}

// statusRecorder captures the status code a handler writes, so the login
// rate limiter can tell a failed attempt from a successful one without
// login.go needing to know about rate limiting at all.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loginRateLimit blocks an IP that has exceeded its failed-login budget,
// and feeds the outcome of every attempt that gets through back into the
// limiter: success resets the counter, failure increments it.
func loginRateLimit(rl *auth.RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			result, err := rl.Check(r.Context(), ip)
			if err != nil {
				logger.Error("login rate limiter check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !result.Allowed {
				httpserver.RespondErr(w, apperr.New(apperr.RateLimited, "too many login attempts, try again later"))
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status == http.StatusOK {
				if err := rl.Reset(r.Context(), ip); err != nil {
					logger.Error("login rate limiter reset failed", "error", err)
				}
			} else if err := rl.Record(r.Context(), ip); err != nil {
				logger.Error("login rate limiter record failed", "error", err)
			}
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
