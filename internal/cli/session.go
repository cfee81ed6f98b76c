package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
)

// signedGrant matches the body of POST /api/sessions.
type signedGrant struct {
	Participant string    `json:"participant"`
	SessionKey  string    `json:"session_key"`
	ExpiresAt   time.Time `json:"expires_at"`
	Privileges  []string  `json:"privileges,omitempty"`
	Signature   string    `json:"signature"`
}

func newSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Work with session key grants",
	}
	cmd.AddCommand(newSessionSignCommand(rootOpts))
	return cmd
}

func newSessionSignCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sessionKey string
		expiresIn  time.Duration
		privileges []string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a grant delegating to a session key with the wallet key",
		Long: `Sign a session grant with the configured wallet key and print the
request body for POST /api/sessions. Without --privilege the grant is
unrestricted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("session-key", sessionKey); err != nil {
				return err
			}
			if expiresIn <= 0 {
				return fmt.Errorf("--expires-in must be positive")
			}
			key, err := crypto.NormalizeAddress(sessionKey)
			if err != nil {
				return err
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			signer, err := walletSigner(cfg)
			if err != nil {
				return err
			}

			for i, p := range privileges {
				privileges[i] = strings.TrimSpace(p)
			}
			grant := signedGrant{
				Participant: signer.Address(),
				SessionKey:  key,
				ExpiresAt:   time.Now().Add(expiresIn).UTC().Truncate(time.Second),
				Privileges:  privileges,
			}
			grant.Signature, err = signer.SignGrant(crypto.GrantMessage{
				Participant:    grant.Participant,
				SessionKey:     grant.SessionKey,
				ExpiresAt:      grant.ExpiresAt,
				PrivilegesHash: crypto.PrivilegesHash(privileges),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), grant)
		},
	}

	cmd.Flags().StringVar(&sessionKey, "session-key", "", "address of the session key")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 24*time.Hour, "grant lifetime")
	cmd.Flags().StringSliceVar(&privileges, "privilege", nil, "privilege to grant (repeatable)")
	return cmd
}
