package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tenantsync/internal/storage"
	"tenantsync/internal/syncer"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon configuration and sync state",
		RunE:  runStatus,
	}

	cmd.Flags().StringP("tenant", "t", "", "Show entity counts and runs for one tenant")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Syncd Status")
	fmt.Println(strings.Repeat("=", 40))

	fmt.Println("\nConfiguration:")
	fmt.Printf("  Database:   %s\n", cfg.DBPath)
	fmt.Printf("  Qdrant:     %s\n", cfg.QdrantURL)
	fmt.Printf("  Collection: %s\n", cfg.Collection)

	fmt.Println("\nEmbedding:")
	fmt.Printf("  Provider:   %s\n", cfg.EmbeddingProvider)
	if cfg.EmbeddingProvider == "openai" {
		fmt.Printf("  API key:    %s\n", keyStatus(cfg.OpenAIAPIKey))
	} else {
		fmt.Printf("  Endpoint:   %s\n", cfg.LocalEmbedURL)
	}

	fmt.Println("\nVault:")
	fmt.Printf("  Passphrase: %s\n", keyStatus(cfg.VaultPassphrase))

	tenantID, _ := cmd.Flags().GetString("tenant")
	if tenantID == "" {
		return nil
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		fmt.Printf("\nStorage:    FAILED (%s)\n", err)
		return nil // report status, don't fail the command
	}
	defer store.Close()

	counts, err := store.CountEntitiesByStatus(tenantID)
	if err != nil {
		fmt.Printf("\nEntity counts: error (%s)\n", err)
		return nil
	}

	if len(counts) == 0 {
		fmt.Printf("\nEntities for %s: (none)\n", tenantID)
	} else {
		fmt.Printf("\nEntities for %s:\n", tenantID)
		total := 0
		for status, count := range counts {
			fmt.Printf("  %-12s %d\n", status+":", count)
			total += count
		}
		fmt.Printf("  %-12s %d\n", "TOTAL:", total)
	}

	fmt.Println("\nLast runs:")
	for _, entityType := range syncer.EntityTypes {
		run, err := store.GetRun(tenantID, entityType)
		if err != nil || run == nil {
			fmt.Printf("  %-20s -\n", entityType+":")
			continue
		}
		fmt.Printf("  %-20s %s (up %d, pruned %d, failed %d)\n",
			entityType+":", run.Status, run.Upserted, run.Pruned, run.Failed)
	}

	return nil
}

func keyStatus(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) > 12 {
		return key[:4] + "..." + key[len(key)-4:] + " (set)"
	}
	return "****** (set)"
}
