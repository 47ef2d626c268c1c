package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mailcrypt-service/config"
	"mailcrypt-service/internal/domain"
	"mailcrypt-service/internal/infra"
	"mailcrypt-service/internal/repository"
	"mailcrypt-service/internal/usecase"
	"mailcrypt-service/migrations"
)

// newMigrationService は環境変数のDATABASE_URLに接続し、埋め込みマイグレーションを使うサービスを返す。
func newMigrationService() (*usecase.MigrationService, error) {
	db, err := infra.NewDB(config.Load())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return usecase.NewMigrationService(repository.NewMigrationRepository(db), migrations.FS), nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Manage database migrations for the key vault (connects directly using DATABASE_URL)",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newMigrationService()
			if err != nil {
				return err
			}

			applied, err := service.ApplyMigrations(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if applied == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", applied)
			}
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newMigrationService()
			if err != nil {
				return err
			}

			list, err := service.GetMigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "-------\t----\t------\t----------")
			for _, m := range list {
				appliedAt := "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				status := "pending"
				if m.Status == domain.MigrationStatusApplied {
					status = "applied"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, status, appliedAt)
			}
			return w.Flush()
		},
	}
}
