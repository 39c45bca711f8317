// Package main is the Kuro gateway entry point: it wires the authentication,
// quota, retrieval, capability, connector, sandbox, audit, and orchestrator
// collaborators together and serves the HTTP surface in front of the local
// inference backend.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	sllogging "github.com/kurogate/kuro/infrastructure/logging"
	slmetrics "github.com/kurogate/kuro/infrastructure/metrics"
	slmiddleware "github.com/kurogate/kuro/infrastructure/middleware"
	"github.com/kurogate/kuro/infrastructure/redaction"
	"github.com/kurogate/kuro/infrastructure/security"
	"github.com/kurogate/kuro/infrastructure/state"
	slutils "github.com/kurogate/kuro/infrastructure/utils"
	"github.com/kurogate/kuro/internal/audit"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/capability"
	"github.com/kurogate/kuro/internal/connector"
	"github.com/kurogate/kuro/internal/frontier"
	"github.com/kurogate/kuro/internal/orchestrator"
	"github.com/kurogate/kuro/internal/pipeline"
	"github.com/kurogate/kuro/internal/platform/database"
	"github.com/kurogate/kuro/internal/platform/migrations"
	"github.com/kurogate/kuro/internal/quota"
	"github.com/kurogate/kuro/internal/retrieval"
	"github.com/kurogate/kuro/internal/sandbox"
	"github.com/kurogate/kuro/internal/telemetry"
	"github.com/kurogate/kuro/internal/vectorstore"
	"github.com/kurogate/kuro/pkg/config"
	"github.com/kurogate/kuro/pkg/version"
)

// gatewayVersion is surfaced on /api/health; set at build time via
// pkg/version's compiler-flag variables.
var gatewayVersion = version.Version

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := sllogging.NewFromEnv("gateway")
	zapLogger := newZapLogger(cfg.Runtime.Environment)
	defer zapLogger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := wireDependencies(ctx, cfg, logger, zapLogger)
	if err != nil {
		log.Fatalf("wire dependencies: %v", err)
	}
	defer deps.Close(ctx)

	router := mux.NewRouter()
	router.Use(slmiddleware.NewSecurityHeadersMiddleware(nil).Handler)
	router.Use(slmiddleware.LoggingMiddleware(logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)

	if slmetrics.Enabled() {
		m := slmetrics.Init("gateway")
		router.Use(slmiddleware.MetricsMiddleware("gateway", m))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	router.Use(slmiddleware.NewCORSMiddleware(&slmiddleware.CORSConfig{
		AllowedOrigins:         corsAllowedOrigins(),
		AllowedMethods:         []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:         []string{"Content-Type", "Authorization", "X-Request-ID", "X-Correlation-ID", "X-Filename"},
		ExposedHeaders:         []string{"X-Request-ID", "X-Correlation-ID"},
		AllowCredentials:       true,
		MaxAgeSeconds:          3600,
		PreflightStatus:        http.StatusNoContent,
		RejectDisallowedOrigin: true,
	}).Handler)

	router.Use(slmiddleware.NewBodyLimitMiddleware(16 << 20).Handler)

	rateLimiter, stopRateLimiter := newGatewayRateLimiter(logger)
	if stopRateLimiter != nil {
		defer stopRateLimiter()
	}
	authLimiter, stopAuthLimiter := newAuthRateLimiter(logger)
	if stopAuthLimiter != nil {
		defer stopAuthLimiter()
	}

	registerRoutes(router, deps, rateLimiter, authLimiter)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 5m", func() {
		if err := deps.Sealer.Flush(ctx); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("audit head flush failed")
		}
	}); err != nil {
		log.Fatalf("schedule audit flush: %v", err)
	}
	if err := deps.Quota.StartFlushSchedule(ctx); err != nil {
		log.Fatalf("schedule quota flush: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second, // streaming responses run long
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.WithContext(ctx).WithField("addr", addr).Info("gateway starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.WithContext(ctx).Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithContext(ctx).WithError(err).Error("graceful shutdown failed")
	}
}

func newZapLogger(environment string) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if strings.EqualFold(environment, "production") {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		l = zap.NewNop()
	}
	return l
}

func corsAllowedOrigins() []string {
	allowed := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if allowed == "" {
		allowed = "http://localhost:3000,http://localhost:5173"
	}
	return slutils.TrimEmpty(slutils.SplitTrim(allowed, ","))
}

// newGatewayRateLimiter builds the global per-IP limiter sitting in front of
// every route. It is always enabled; RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW
// and RATE_LIMIT_BURST tune it.
func newGatewayRateLimiter(logger *sllogging.Logger) (limiter *slmiddleware.RateLimiter, stop func()) {
	requests := envInt("RATE_LIMIT_REQUESTS", 600)
	window := envDuration("RATE_LIMIT_WINDOW", time.Minute)
	burst := envInt("RATE_LIMIT_BURST", requests)

	rl := slmiddleware.NewRateLimiterWithWindow(requests, window, burst, logger)
	return rl, rl.StartCleanup(5 * time.Minute)
}

// newAuthRateLimiter is the stricter limiter layered on top of the global
// one for auth-sensitive paths (session-cookie resolution, legacy bearer
// verification) where brute-forcing is the threat model.
func newAuthRateLimiter(logger *sllogging.Logger) (limiter *slmiddleware.RateLimiter, stop func()) {
	requests := envInt("AUTH_RATE_LIMIT_REQUESTS", 30)
	window := envDuration("AUTH_RATE_LIMIT_WINDOW", time.Minute)
	burst := envInt("AUTH_RATE_LIMIT_BURST", requests)

	rl := slmiddleware.NewRateLimiterWithWindow(requests, window, burst, logger)
	return rl, rl.StartCleanup(5 * time.Minute)
}

func envInt(key string, fallback int) int {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	return slutils.TrimEmpty(slutils.SplitTrim(raw, ","))
}

// deps is the fully wired dependency graph the route handlers close over.
type deps struct {
	Log    *sllogging.Logger
	Config *config.Config

	DB *sql.DB

	Resolver   *authn.Resolver
	Sessions   *authn.SessionStore
	Guests     *quota.GuestGate
	Quota      *quota.Gate
	TierOfUser func(userID string) authn.Tier

	VectorStore *vectorstore.Store
	Embedding   *retrieval.EmbeddingClient
	Retrieval   *retrieval.Layer
	Uploader    *retrieval.Uploader

	PolicyEngine     *capability.PolicyEngine
	ProfileOverrides *capability.ProfileDocument

	FileConnector  *connector.FileConnector
	ShellConnector *connector.ShellConnector
	ToolReplay     *security.ReplayProtection

	SandboxStore     *sandbox.Store
	SandboxRunner    *sandbox.Runner
	SandboxArtifacts *sandbox.ArtifactServer

	Telemetry *telemetry.Collector

	AuditChain *audit.Chain
	AuditSink  *audit.FileSink
	Sealer     *audit.Sealer

	Frontier *frontier.Router

	Orchestrator *orchestrator.Orchestrator
}

func (d *deps) Close(ctx context.Context) {
	if d.DB != nil {
		_ = d.DB.Close()
	}
	d.Quota.Stop()
}

func wireDependencies(ctx context.Context, cfg *config.Config, logger *sllogging.Logger, zapLogger *zap.Logger) (*deps, error) {
	dataDir := cfg.Runtime.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	db, err := database.Open(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	sqlxDB := sqlx.NewDb(db, "postgres")

	encryptionSecret := cfg.Security.SecretEncryptionKey
	if encryptionSecret == "" {
		encryptionSecret = "kuro-dev-only-session-key"
	}
	sessions := authn.NewSessionStore(sqlxDB, envDuration("SESSION_ABSOLUTE_LIFETIME", 30*24*time.Hour), envDuration("SESSION_INACTIVITY_TIMEOUT", 7*24*time.Hour), encryptionSecret)
	legacySecret := []byte(os.Getenv("LEGACY_AUTH_JWT_SECRET"))
	legacy := authn.NewLegacyVerifier(legacySecret, envBool("LEGACY_AUTH_ENABLED", false))
	resolver := authn.NewResolver(sessions, legacy, logger)

	guestGate := quota.NewGuestGate()
	quotaGate := quota.NewGate(db, logger)

	tierOfUser := func(userID string) authn.Tier {
		tier, err := sessions.TierForUser(ctx, userID)
		if err != nil {
			return authn.TierFree
		}
		return tier
	}

	backend := state.NewMemoryBackend(5 * time.Minute)
	vsLog := logger
	vs := vectorstore.New(backend, vsLog)

	embedding, err := retrieval.NewEmbeddingClient(mustEnv("EMBEDDING_BASE_URL", "http://localhost:8091"), nil)
	if err != nil {
		return nil, fmt.Errorf("build embedding client: %w", err)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		embedding.SetCache(redis.NewClient(opts), envDuration("EMBEDDING_CACHE_TTL", time.Hour))
	}
	retrievalLayer := retrieval.New(embedding, vs, envFloat("RAG_SIMILARITY_THRESHOLD", retrieval.DefaultThreshold))
	uploader := retrieval.NewUploader(dataDir, retrievalLayer, logger)

	policyEngine := capability.NewPolicyEngine(cfg.Capability.PolicyScript)

	var profileOverrides *capability.ProfileDocument
	if path := cfg.Capability.ProfileDocumentPath; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("read capability profile document")
		} else if doc, err := capability.ParseProfileDocument(data); err != nil {
			logger.WithError(err).WithField("path", path).Warn("parse capability profile document")
		} else {
			profileOverrides = doc
		}
	}

	redactor := redaction.NewRedactor(redaction.DefaultConfig())
	fileConn := connector.NewFileConnector(dataDir, dataDir+"/audit", redactor, logger)
	shellConn := connector.NewShellConnector(dataDir, dataDir+"/code", logger)
	toolReplay := security.NewReplayProtection(envDuration("TOOL_REPLAY_WINDOW", 5*time.Minute), logger)

	sandboxStore := sandbox.NewStore(dataDir + "/sandbox")
	sidecarURL := os.Getenv("SANDBOX_SIDECAR_URL")
	var sidecar sandbox.Sidecar
	if sidecarURL != "" {
		httpSidecar, err := sandbox.NewHTTPSidecar(sidecarURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build sandbox sidecar client: %w", err)
		}
		sidecar = httpSidecar
	}
	sandboxRunner := sandbox.NewRunner(sidecar, sandboxStore, zapLogger)
	sandboxArtifacts := sandbox.NewArtifactServer(dataDir+"/sandbox", sandboxRunner)

	collector := telemetry.NewCollector()

	auditDir := dataDir + "/audit"
	auditSink, err := audit.NewFileSink(auditDir)
	if err != nil {
		return nil, fmt.Errorf("build audit sink: %w", err)
	}
	signer, err := buildAuditSigner()
	if err != nil {
		return nil, fmt.Errorf("build audit signer: %w", err)
	}
	heads, err := audit.NewHeadStore(backend)
	if err != nil {
		return nil, fmt.Errorf("build audit head store: %w", err)
	}
	head, err := heads.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit head: %w", err)
	}
	auditChain := audit.NewChain(signer, auditSink, head, logger)
	sealer := audit.NewSealer(auditChain, heads, logger)

	auditRecorder := orchestrator.NewAuditRecorderAdapter(auditChain)
	escalationQuota := orchestrator.NewHourlyEscalationQuota(quotaGate, tierOfUser)
	zeroLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	frontierRouter := frontier.New(escalationQuota, auditRecorder, zeroLog, mustEnv("ESCALATION_PROVIDER", "anthropic"), mustEnv("ESCALATION_MODEL", "claude"))

	threatFilter := pipeline.NewThreatFilter(os.Getenv("THREAT_FILTER_SCRIPT"), envFloat("THREAT_FILTER_THRESHOLD", 0.5), envList("THREAT_FILTER_KEYWORDS"))
	rateLimitStage := pipeline.NewRateLimiter(rate.Limit(envFloat("PIPELINE_RATE_LIMIT_RPS", 5)), envInt("PIPELINE_RATE_LIMIT_BURST", 10))
	retrievalStage := pipeline.NewRetrievalStage(retrievalLayer)
	intentRouter := pipeline.NewIntentRouter(envList("BLOCKED_INTENTS"))
	historyStore := orchestrator.NewHistoryStore(backend)
	memoryStage := pipeline.NewMemoryStage(historyStore, envInt("MEMORY_MAX_TURNS", 20), envInt("MEMORY_CACHE_LIMIT", 256))
	agentStage := pipeline.NewAgentOrchestrator()
	fireControlStage := pipeline.NewFireControlStage(frontierRouter)
	promptBuilderStage := pipeline.NewPromptBuilder()

	pipe := pipeline.New(
		threatFilter,
		rateLimitStage,
		retrievalStage,
		intentRouter,
		memoryStage,
		agentStage,
		fireControlStage,
		promptBuilderStage,
	)

	backendClient, err := orchestrator.NewBackendClient(mustEnv("BACKEND_BASE_URL", "http://localhost:8090"), nil)
	if err != nil {
		return nil, fmt.Errorf("build backend client: %w", err)
	}

	var escalationClient *orchestrator.EscalationClient
	if escURL := os.Getenv("ESCALATION_BASE_URL"); escURL != "" {
		escalationClient, err = orchestrator.NewEscalationClient(escURL, os.Getenv("ESCALATION_API_KEY"), mustEnv("ESCALATION_PROVIDER", "anthropic"), mustEnv("ESCALATION_MODEL", "claude"), nil)
		if err != nil {
			return nil, fmt.Errorf("build escalation client: %w", err)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Resolver:   resolver,
		Guests:     guestGate,
		Quota:      quotaGate,
		Pipeline:   pipe,
		Backend:    backendClient,
		Escalation: escalationClient,
		History:    historyStore,
		Traces:     retrievalLayer,
		Audit:      auditChain,
		Log:        logger,
	})

	return &deps{
		Log:              logger,
		Config:           cfg,
		DB:               db,
		Resolver:         resolver,
		Sessions:         sessions,
		Guests:           guestGate,
		Quota:            quotaGate,
		TierOfUser:       tierOfUser,
		VectorStore:      vs,
		Embedding:        embedding,
		Retrieval:        retrievalLayer,
		Uploader:         uploader,
		PolicyEngine:     policyEngine,
		ProfileOverrides: profileOverrides,
		FileConnector:    fileConn,
		ShellConnector:   shellConn,
		ToolReplay:       toolReplay,
		SandboxStore:     sandboxStore,
		SandboxRunner:    sandboxRunner,
		SandboxArtifacts: sandboxArtifacts,
		Telemetry:        collector,
		AuditChain:       auditChain,
		AuditSink:        auditSink,
		Sealer:           sealer,
		Frontier:         frontierRouter,
		Orchestrator:     orch,
	}, nil
}

// buildAuditSigner prefers an Ed25519 key pair (AUDIT_ED25519_PUBLIC_KEY /
// AUDIT_ED25519_PRIVATE_KEY, hex-encoded) and falls back to the weaker
// HMAC signer derived from AUDIT_MASTER_KEY for local development, logging
// the fallback loudly since a leaked shared secret lets an attacker forge
// entries.
func buildAuditSigner() (audit.Signer, error) {
	pubHex := strings.TrimSpace(os.Getenv("AUDIT_ED25519_PUBLIC_KEY"))
	privHex := strings.TrimSpace(os.Getenv("AUDIT_ED25519_PRIVATE_KEY"))
	if pubHex != "" && privHex != "" {
		pub, err := hex.DecodeString(pubHex)
		if err != nil {
			return nil, fmt.Errorf("decode AUDIT_ED25519_PUBLIC_KEY: %w", err)
		}
		priv, err := hex.DecodeString(privHex)
		if err != nil {
			return nil, fmt.Errorf("decode AUDIT_ED25519_PRIVATE_KEY: %w", err)
		}
		return audit.NewEd25519Signer(pub, priv), nil
	}

	master := os.Getenv("AUDIT_MASTER_KEY")
	if master == "" {
		master = "kuro-development-only-master-key"
		log.Printf("WARNING: AUDIT_MASTER_KEY not set, using an insecure development default")
	}
	return audit.NewHMACSigner([]byte(master))
}

func mustEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
