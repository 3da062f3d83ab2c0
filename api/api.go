// Package api exposes the Spine engine over HTTP. It owns routing,
// bearer-token authentication, and the mapping from engine sentinel
// errors to HTTP status codes and machine-readable discriminators.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"spine/authz"
	"spine/engine"
	"spine/observability"
)

// roleContextKey is the gin context key the auth middleware stores
// the resolved role under.
const roleContextKey = "spine.role"

// API wires the engine to gin routes.
type API struct {
	eng    *engine.Engine
	tokens map[string]authz.Role
	logger *slog.Logger
}

// New creates an API. tokens maps each accepted bearer token to the
// role it authenticates as; the config package guarantees every role
// has at least one token.
func New(eng *engine.Engine, tokens map[string]authz.Role, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, tokens: tokens, logger: logger}
}

// TokenMap flattens per-role token sets into the token→role map New
// expects. Later roles win on (misconfigured) duplicate tokens.
func TokenMap(head, leftClaw, rightClaw []string) map[string]authz.Role {
	m := make(map[string]authz.Role)
	for _, t := range head {
		m[t] = authz.Head
	}
	for _, t := range leftClaw {
		m[t] = authz.LeftClaw
	}
	for _, t := range rightClaw {
		m[t] = authz.RightClaw
	}
	return m
}

// RegisterRoutes attaches all routes to r. The health and metrics
// endpoints are unauthenticated; everything under /jobs requires a
// resolvable bearer token.
func (a *API) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", a.health)
	r.GET("/metrics", observability.MetricsHandler())

	jobs := r.Group("/jobs", a.authenticate)
	jobs.POST("", a.createJob)
	jobs.GET("", a.listJobs)
	jobs.GET("/:id", a.getJob)
	jobs.POST("/:id/claim", a.claimJob)
	jobs.POST("/:id/heartbeat", a.heartbeatJob)
	jobs.POST("/:id/complete", a.completeJob)
	jobs.POST("/:id/fail", a.failJob)
	jobs.POST("/:id/release", a.releaseJob)
	jobs.POST("/:id/comment", a.commentJob)
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC().Format(time.RFC3339Nano)})
}

// authenticate resolves the Authorization header to a role, aborting
// with 401 when no token is presented or the token is unknown.
func (a *API) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	role, ok := a.tokens[token]
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(roleContextKey, role)
	c.Next()
}

// role returns the authenticated role stored by the middleware.
func role(c *gin.Context) authz.Role {
	return c.MustGet(roleContextKey).(authz.Role)
}
