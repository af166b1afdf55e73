package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds daemon configuration, loaded from a syncd.yaml file when one
// exists and overridable through SYNCD_* environment variables.
type Config struct {
	ListenAddr    string
	DBPath        string
	WebhookSecret string

	VaultPassphrase string
	VaultSalt       string

	QdrantURL    string
	QdrantAPIKey string
	Collection   string
	VectorSize   int

	// EmbeddingProvider selects "openai" or "local".
	EmbeddingProvider string
	OpenAIAPIKey      string
	LocalEmbedURL     string
}

// LoadConfig reads configuration from syncd.yaml (current directory or
// ~/.tenantsync) layered under SYNCD_* environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("qdrant_url", "http://localhost:6333")
	v.SetDefault("collection", "tenant_entities")
	v.SetDefault("vector_size", 768)
	v.SetDefault("embedding_provider", "local")
	v.SetDefault("local_embed_url", "http://localhost:11434/api/embed")

	v.SetConfigName("syncd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join("$HOME", ".tenantsync"))

	v.SetEnvPrefix("SYNCD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return &Config{
		ListenAddr:        v.GetString("listen_addr"),
		DBPath:            v.GetString("db_path"),
		WebhookSecret:     v.GetString("webhook_secret"),
		VaultPassphrase:   v.GetString("vault_passphrase"),
		VaultSalt:         v.GetString("vault_salt"),
		QdrantURL:         v.GetString("qdrant_url"),
		QdrantAPIKey:      v.GetString("qdrant_api_key"),
		Collection:        v.GetString("collection"),
		VectorSize:        v.GetInt("vector_size"),
		EmbeddingProvider: v.GetString("embedding_provider"),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		LocalEmbedURL:     v.GetString("local_embed_url"),
	}, nil
}

// Validate checks the settings every command needs before touching the vault.
func (c *Config) Validate() error {
	if c.VaultPassphrase == "" {
		return fmt.Errorf("SYNCD_VAULT_PASSPHRASE is required")
	}
	if c.VaultSalt == "" {
		return fmt.Errorf("SYNCD_VAULT_SALT is required")
	}
	return nil
}

// ValidateServe adds the serve-only requirements.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("SYNCD_WEBHOOK_SECRET is required")
	}
	if c.EmbeddingProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("SYNCD_OPENAI_API_KEY is required with the openai provider")
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tenantsync/syncd.db"
	}
	return filepath.Join(home, ".tenantsync", "syncd.db")
}
