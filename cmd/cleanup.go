package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/retention"
)

var (
	cleanupOrg  string
	cleanupKeep int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Enforce the proposition retention policy for an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupOrg == "" {
			return eris.New("--org is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		keep := cleanupKeep
		if keep == 0 {
			keep = cfg.Engine.RetentionKeep
		}

		policy := retention.New(env.Store, env.Blobs)
		deleted, err := policy.Enforce(cmd.Context(), cleanupOrg, keep)
		if err != nil {
			return err
		}

		zap.L().Info("retention enforced",
			zap.String("organization_id", cleanupOrg),
			zap.Int("keep", keep),
			zap.Int("deleted", deleted))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupOrg, "org", "", "organization id")
	cleanupCmd.Flags().IntVar(&cleanupKeep, "keep", 0, "propositions to keep (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}
