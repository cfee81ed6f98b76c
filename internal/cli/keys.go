package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/opinionsmarket/internal/config"
	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
)

func newKeysCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage wallet signing keys",
	}
	cmd.AddCommand(newKeysEncryptCommand())
	cmd.AddCommand(newKeysAddressCommand(rootOpts))
	return cmd
}

func newKeysEncryptCommand() *cobra.Command {
	var (
		keyHex   string
		password string
		kdf      string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal a hex private key into a password-protected key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyHex == "" {
				keyHex = os.Getenv("OPINIONS_WALLET_PRIVATE_KEY")
			}
			if password == "" {
				password = os.Getenv("OPINIONS_WALLET_KEY_PASSWORD")
			}
			if err := requireFlag("key", keyHex); err != nil {
				return err
			}
			if err := requireFlag("password", password); err != nil {
				return err
			}

			sealed, err := crypto.EncryptKey(keyHex, password, crypto.KDF(kdf))
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append(sealed, '\n'))
				return err
			}
			if err := os.WriteFile(out, sealed, 0o600); err != nil {
				return fmt.Errorf("keys: write %s: %w", out, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyHex, "key", "", "hex private key (default $OPINIONS_WALLET_PRIVATE_KEY)")
	cmd.Flags().StringVar(&password, "password", "", "encryption password (default $OPINIONS_WALLET_KEY_PASSWORD)")
	cmd.Flags().StringVar(&kdf, "kdf", string(crypto.KDFScrypt), "key derivation function (scrypt, pbkdf2-sha256)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newKeysAddressCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the configured wallet key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			signer, err := walletSigner(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Address())
			return nil
		},
	}
}

// walletSigner loads the [wallet] key.
func walletSigner(cfg *config.Config) (*crypto.Signer, error) {
	keyHex, err := crypto.LoadKey(crypto.KeySource{
		RawHex:   cfg.Wallet.PrivateKey,
		Path:     cfg.Wallet.EncryptedKeyPath,
		Password: cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(keyHex, cfg.Market.ChainID)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
