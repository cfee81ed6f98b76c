package cli

import (
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
)

func newTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API access tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(rootOpts))
	return cmd
}

func newTokenIssueCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		identity string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token signed with the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("identity", identity); err != nil {
				return err
			}
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if addr, err := crypto.NormalizeAddress(identity); err == nil {
				identity = addr
			}

			svc := auth.NewService(cfg.Server.JWTSecret, cfg.Server.TokenTTL.Duration, cfg.Server.ChallengeTTL.Duration)
			tok, err := svc.Issue(identity, admin)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tok)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "participant identity for the token subject")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights")
	return cmd
}
