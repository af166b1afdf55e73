package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"tenantsync/internal/syncer"
	"tenantsync/internal/web"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion gateway",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	c, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	// Collections are created up front so the first sync run does not race
	// collection creation. Failures are reported but not fatal: the index
	// may simply not be up yet.
	ctx := context.Background()
	for _, entityType := range syncer.EntityTypes {
		collection := c.orchestrator.CollectionFor(entityType)
		if err := c.index.EnsureCollection(ctx, collection, cfg.VectorSize); err != nil {
			log.Printf("Warning: failed to ensure collection %s: %v", collection, err)
		}
	}

	server, err := web.NewServer(web.ServerConfig{
		Assembler:     c.assembler,
		Runner:        c.orchestrator,
		Store:         c.store,
		WebhookSecret: cfg.WebhookSecret,
	})
	if err != nil {
		return err
	}

	fmt.Printf("syncd listening on %s\n", cfg.ListenAddr)
	return server.Run(cfg.ListenAddr)
}
