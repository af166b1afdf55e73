package main

import (
	"fmt"

	"tenantsync/internal/embedding"
	"tenantsync/internal/storage"
	"tenantsync/internal/syncer"
	"tenantsync/internal/tenantconf"
	"tenantsync/internal/vault"
	"tenantsync/internal/vector"
)

// components wires the storage, vault, assembler and orchestrator together
// from one Config. Commands build what they need from here.
type components struct {
	store        *storage.Store
	vault        *vault.Vault
	assembler    *tenantconf.Assembler
	orchestrator *syncer.Orchestrator
	index        *vector.QdrantIndex
}

func buildComponents(cfg *Config) (*components, error) {
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	key := vault.DeriveKey([]byte(cfg.VaultPassphrase), []byte(cfg.VaultSalt))
	vlt, err := vault.New(vault.Config{Key: key}, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	assembler, err := tenantconf.NewAssembler(store, vlt)
	if err != nil {
		store.Close()
		return nil, err
	}

	var indexOpts []vector.Option
	if cfg.QdrantAPIKey != "" {
		indexOpts = append(indexOpts, vector.WithAPIKey(cfg.QdrantAPIKey))
	}
	index := vector.NewQdrantIndex(cfg.QdrantURL, indexOpts...)

	var embedder syncer.Embedder
	switch cfg.EmbeddingProvider {
	case "openai":
		embedder = embedding.NewOpenAIClient(cfg.OpenAIAPIKey)
	case "local", "":
		embedder = embedding.NewLocalClient(embedding.WithLocalBaseURL(cfg.LocalEmbedURL))
	default:
		store.Close()
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.EmbeddingProvider)
	}

	orchestrator, err := syncer.NewOrchestrator(syncer.OrchestratorConfig{
		Store:      store,
		Embedder:   embedder,
		Index:      index,
		Collection: cfg.Collection,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &components{
		store:        store,
		vault:        vlt,
		assembler:    assembler,
		orchestrator: orchestrator,
		index:        index,
	}, nil
}

func (c *components) Close() error {
	return c.store.Close()
}
