package main

import (
	"net/http"

	"github.com/gorilla/mux"

	slmiddleware "github.com/kurogate/kuro/infrastructure/middleware"
)

// registerRoutes mounts every route the gateway serves. Public routes
// (health, sovereignty, capability listing) take only the global rate
// limiter; capability negotiation resolves the caller without requiring one,
// everything else that reads or mutates caller state goes through
// requireCaller, and the stream route additionally takes the stricter auth
// rate limiter.
func registerRoutes(router *mux.Router, d *deps, rateLimiter, authLimiter *slmiddleware.RateLimiter) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(rateLimiter.Handler)

	auth := requireCaller(d.Resolver, d.AuditChain, d.Log)
	optional := optionalCaller(d.Resolver, d.Log)

	// Public, no caller required.
	api.HandleFunc("/health", handleHealth(d)).Methods(http.MethodGet)
	api.HandleFunc("/sovereignty", handleSovereignty(d)).Methods(http.MethodGet)
	api.HandleFunc("/frontier/status", handleFrontierStatus(d)).Methods(http.MethodGet)
	api.HandleFunc("/capability/profiles", handleCapabilityProfiles(d)).Methods(http.MethodGet)

	// Streaming inference: the orchestrator resolves its own caller off the
	// request (it needs the expired-session event even on a guest request),
	// so it is wrapped with the stricter auth limiter but not requireCaller.
	api.Handle("/stream", authLimiter.Handler(http.HandlerFunc(d.Orchestrator.HandleStream))).Methods(http.MethodPost)

	// Capability negotiation is allowed for guests (profile resolution still
	// applies a tier ceiling), everything else requires a resolved caller.
	api.Handle("/capability/negotiate", optional(http.HandlerFunc(handleCapabilityNegotiate(d)))).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(auth)

	authed.HandleFunc("/embed", handleEmbed(d)).Methods(http.MethodPost)
	authed.HandleFunc("/ingest", handleIngest(d)).Methods(http.MethodPost)
	authed.HandleFunc("/rag/query", handleRAGQuery(d)).Methods(http.MethodPost)
	authed.HandleFunc("/rag/stats", handleRAGStats(d)).Methods(http.MethodGet)
	authed.HandleFunc("/rag/clear", handleRAGClear(d)).Methods(http.MethodPost)

	authed.HandleFunc("/files/upload", handleFilesUpload(d)).Methods(http.MethodPost)

	authed.HandleFunc("/tools/invoke", handleToolsInvoke(d)).Methods(http.MethodPost)

	authed.HandleFunc("/sandbox/workspaces", handleSandboxCreateWorkspace(d)).Methods(http.MethodPost)
	authed.HandleFunc("/sandbox/files/write", handleSandboxWriteFile(d)).Methods(http.MethodPost)
	authed.HandleFunc("/sandbox/files/upload", handleSandboxUploadFile(d)).Methods(http.MethodPost)
	authed.HandleFunc("/sandbox/run", handleSandboxRun(d)).Methods(http.MethodPost)
	authed.HandleFunc("/sandbox/run/{runId}", handleSandboxRunStatus(d)).Methods(http.MethodGet)
	authed.HandleFunc("/sandbox/artifacts/{runId}/{path:.*}", handleSandboxArtifact(d)).Methods(http.MethodGet)

	authed.HandleFunc("/audit/stats", handleAuditStats(d)).Methods(http.MethodGet)
	authed.HandleFunc("/audit/recent", handleAuditRecent(d)).Methods(http.MethodGet)
	authed.HandleFunc("/audit/verify", handleAuditVerify(d)).Methods(http.MethodGet)
	authed.HandleFunc("/audit/seal", handleAuditSeal(d)).Methods(http.MethodPost)
}
