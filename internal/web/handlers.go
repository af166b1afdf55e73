package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tenantsync/internal/syncer"
	"tenantsync/internal/tenantconf"
	"tenantsync/internal/vault"
)

// handleSyncWebhook is the single ingestion endpoint. The event_type field
// decides whether the delivery updates configuration or triggers a sync run.
func (s *Server) handleSyncWebhook(c *gin.Context) {
	body := c.MustGet(rawBodyKey).([]byte)

	event, err := ParseEvent(body)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}

	switch e := event.(type) {
	case *CredentialsSyncEvent:
		s.applyCredentials(c, e)
	case *MappingSyncEvent:
		s.applyMapping(c, e)
	case *EntitySyncEvent:
		s.triggerSync(c, e)
	}
}

// applyCredentials creates the tenant on first delivery and assembles the
// provider connection data into a new config version. The api_token never
// reaches the document inline; the assembler routes it through the vault.
func (s *Server) applyCredentials(c *gin.Context, e *CredentialsSyncEvent) {
	tenant := &tenantconf.Tenant{
		TenantID:      e.TenantID,
		Domain:        e.Domain,
		SecurityToken: uuid.New().String(),
		CreatedAt:     time.Now(),
	}
	// Insert is a no-op for an existing tenant; identity is immutable.
	if err := s.store.SaveTenant(tenant); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to register tenant"})
		return
	}

	incoming := map[string]tenantconf.ModulePayload{
		tenantconf.ModuleCompanyInfo: {
			"name":        e.Name,
			"description": e.Description,
			"domain":      e.Domain,
		},
		tenantconf.ModuleServiceSettings: {
			"provider_url": e.ProviderURL,
			"api_token":    e.APIToken,
		},
		tenantconf.ModuleEnabledServices: {
			"collections": e.EnabledCollections,
		},
	}

	doc, err := s.assembler.Assemble(e.TenantID, incoming)
	if err != nil {
		log.Printf("Warning: credentials sync failed for tenant %s: %v", e.TenantID, err)
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"tenant_id": e.TenantID,
		"version":   doc.Version,
		"message":   "credentials synchronized",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// applyMapping folds a channel mapping update into the channels module.
func (s *Server) applyMapping(c *gin.Context, e *MappingSyncEvent) {
	payload, err := toPayload(e.Mapping)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	doc, err := s.assembler.Assemble(e.TenantID, map[string]tenantconf.ModulePayload{
		tenantconf.ModuleChannels: payload,
	})
	if err != nil {
		log.Printf("Warning: mapping sync failed for tenant %s: %v", e.TenantID, err)
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"tenant_id": e.TenantID,
		"version":   doc.Version,
		"message":   "mapping synchronized",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// triggerSync starts a background run and acknowledges immediately. The
// caller polls /sync-status for the outcome.
func (s *Server) triggerSync(c *gin.Context, e *EntitySyncEvent) {
	if err := s.runner.Trigger(e.TenantID, e.EntityType); err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"tenant_id": e.TenantID,
		"message":   "sync accepted",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSyncStatus reports the last run for a (tenant, entity type) key, or
// the per-status entity counts when no entity_type is given.
func (s *Server) handleSyncStatus(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "tenant_id is required"})
		return
	}

	if entityType := c.Query("entity_type"); entityType != "" {
		if !syncer.ValidEntityType(entityType) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "unknown entity type: " + entityType})
			return
		}
		run, err := s.runner.Status(tenantID, entityType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": "no runs recorded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "run": run})
		return
	}

	counts, err := s.store.CountEntitiesByStatus(tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tenant_id": tenantID, "entities": counts})
}

// handleGetConfig returns a config document: the current version by default,
// or a specific one via ?version=N. Sensitive fields appear only as
// credential refs.
func (s *Server) handleGetConfig(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	var doc *tenantconf.ConfigDocument
	var err error
	if raw := c.Query("version"); raw != "" {
		version, convErr := strconv.Atoi(raw)
		if convErr != nil || version < 1 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "version must be a positive integer"})
			return
		}
		doc, err = s.store.GetConfig(tenantID, version)
	} else {
		doc, err = s.store.CurrentConfig(tenantID)
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "no configuration for tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": doc})
}

// handleUpsertEntity stores or updates a syncable entity. Content changes
// reset its sync status; the index is only touched by the next sync run.
func (s *Server) handleUpsertEntity(c *gin.Context) {
	var entity syncer.SyncableEntity
	if err := c.ShouldBindJSON(&entity); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	if entity.ID == "" || entity.TenantID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "id and tenant_id are required"})
		return
	}
	if !syncer.ValidEntityType(entity.EntityType) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "unknown entity type: " + entity.EntityType})
		return
	}

	entity.ContentHash = entity.ComputeHash()
	entity.UpdatedAt = time.Now()
	if err := s.store.UpsertEntity(&entity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"tenant_id": entity.TenantID,
		"message":   "entity stored",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrUnknownEventType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tenantconf.ErrUnknownModule),
		errors.Is(err, tenantconf.ErrPlaintextSecret),
		errors.Is(err, tenantconf.ErrDanglingRef):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrOverwriteDenied):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// toPayload converts a typed struct to a ModulePayload through its JSON
// encoding.
func toPayload(v any) (tenantconf.ModulePayload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var payload tenantconf.ModulePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
