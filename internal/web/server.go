package web

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tenantsync/internal/syncer"
	"tenantsync/internal/tenantconf"
)

// rawBodyKey is the context key under which the auth middleware stashes the
// request body it consumed for signature verification.
const rawBodyKey = "rawBody"

// ConfigAssembler merges incoming payloads into versioned config documents.
// Implementations: tenantconf.Assembler
type ConfigAssembler interface {
	Assemble(tenantID string, incoming map[string]tenantconf.ModulePayload) (*tenantconf.ConfigDocument, error)
}

// SyncRunner triggers and reports sync runs.
// Implementations: syncer.Orchestrator
type SyncRunner interface {
	Trigger(tenantID, entityType string) error
	Status(tenantID, entityType string) (*syncer.RunResult, error)
}

// GatewayStore is the persistence surface the HTTP layer needs.
// Implementations: storage.Store
type GatewayStore interface {
	SaveTenant(t *tenantconf.Tenant) error
	CurrentConfig(tenantID string) (*tenantconf.ConfigDocument, error)
	GetConfig(tenantID string, version int) (*tenantconf.ConfigDocument, error)
	UpsertEntity(e *syncer.SyncableEntity) error
	CountEntitiesByStatus(tenantID string) (map[string]int, error)
}

// Server is the ingestion gateway: it authenticates webhook deliveries,
// routes them to the assembler or the sync orchestrator, and exposes the
// read-side status and config APIs.
type Server struct {
	assembler ConfigAssembler
	runner    SyncRunner
	store     GatewayStore
	secret    []byte
	engine    *gin.Engine
}

// ServerConfig holds dependencies for creating a Server.
type ServerConfig struct {
	Assembler ConfigAssembler
	Runner    SyncRunner
	Store     GatewayStore
	// WebhookSecret is the shared secret webhook senders sign request
	// bodies with.
	WebhookSecret string
}

// NewServer creates the gateway with explicit dependencies.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Assembler == nil {
		return nil, fmt.Errorf("Assembler is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WebhookSecret is required")
	}

	s := &Server{
		assembler: cfg.Assembler,
		runner:    cfg.Runner,
		store:     cfg.Store,
		secret:    []byte(cfg.WebhookSecret),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/", s.requireSignature())
	authed.POST("/sync-webhook", s.handleSyncWebhook)
	authed.GET("/sync-status", s.handleSyncStatus)
	authed.GET("/config/:tenant_id", s.handleGetConfig)
	authed.POST("/entities", s.handleUpsertEntity)

	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP server on addr.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// requireSignature verifies the X-API-Key header, which must carry the hex
// HMAC-SHA256 of the raw request body under the shared secret. The consumed
// body is restored for downstream handlers.
func (s *Server) requireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "failed to read request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(rawBodyKey, body)

		mac := hmac.New(sha256.New, s.secret)
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))

		provided := c.GetHeader("X-API-Key")
		if provided == "" || !hmac.Equal([]byte(provided), []byte(expected)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid signature"})
			return
		}

		c.Next()
	}
}

// Sign computes the X-API-Key value for a body under the given secret.
// Webhook senders use the same construction.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
