package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tenantsync/internal/storage"
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect the credential vault",
	}

	cmd.AddCommand(vaultCheckCmd())
	cmd.AddCommand(vaultAuditCmd())

	return cmd
}

func vaultCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [ref_id]",
		Short: "Verify that a credential ref decrypts under the configured key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			// Plaintext is never printed; the check only proves the ref
			// resolves and the key is right.
			plaintext, err := c.vault.Decrypt(args[0])
			if err != nil {
				return fmt.Errorf("ref %s: %w", args[0], err)
			}
			fmt.Printf("OK: ref %s decrypts (%d bytes)\n", args[0], len(plaintext))
			return nil
		},
	}
}

func vaultAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [tenant_id]",
		Short: "Show recent vault write attempts for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListAudit(args[0], limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No audit records.")
				return nil
			}

			for _, rec := range records {
				fmt.Printf("%s  %-12s ref=%s caller=%s\n",
					rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Reason, rec.RefID, rec.Caller)
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum records")

	return cmd
}
