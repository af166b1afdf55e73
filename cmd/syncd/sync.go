package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tenantsync/internal/syncer"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [tenant_id] [entity_type]",
		Short: "Run one sync pass for a tenant and entity type",
		Args:  cobra.ExactArgs(2),
		RunE:  runSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	tenantID, entityType := args[0], args[1]
	if !syncer.ValidEntityType(entityType) {
		return fmt.Errorf("unknown entity type %q (known: %v)", entityType, syncer.EntityTypes)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("Syncing %s/%s...\n", tenantID, entityType)
	run, err := c.orchestrator.RunSync(context.Background(), tenantID, entityType)
	if err != nil {
		return err
	}

	fmt.Printf("Status:   %s\n", run.Status)
	fmt.Printf("Upserted: %d\n", run.Upserted)
	fmt.Printf("Pruned:   %d\n", run.Pruned)
	fmt.Printf("Skipped:  %d\n", run.Skipped)
	fmt.Printf("Failed:   %d\n", run.Failed)
	if run.Message != "" {
		fmt.Printf("Message:  %s\n", run.Message)
	}

	if run.Status == syncer.StatusError {
		return fmt.Errorf("sync run failed")
	}
	return nil
}
