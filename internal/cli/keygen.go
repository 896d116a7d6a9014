package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/transfa/settlement-service/pkg/starkkey"
)

const (
	privateKeyFile = "private-key.pem"
	publicKeyFile  = "public-key.pem"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [dir]",
	Short: "Generate a secp256k1 key pair for the Stark Bank project",
	Long: `Generate the project key pair used to sign API requests.

The private key goes into STARKBANK_PRIVATE_KEY (or a file named by
STARKBANK_PRIVATE_KEY_PATH). The public key is registered on the Stark Bank
dashboard under Integrations.

With a directory argument the keys are also written to private-key.pem and
public-key.pem inside it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	return generateKeys(cmd.OutOrStdout(), dir)
}

func generateKeys(out io.Writer, dir string) error {
	key, err := starkkey.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	privPEM, err := starkkey.MarshalPrivateKeyPEM(key)
	if err != nil {
		return err
	}
	pubPEM, err := starkkey.MarshalPublicKeyPEM(key.PubKey())
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "PRIVATE KEY (set as STARKBANK_PRIVATE_KEY)")
	fmt.Fprintln(out, string(privPEM))
	fmt.Fprintln(out, "PUBLIC KEY (register on the Stark Bank dashboard)")
	fmt.Fprintln(out, string(pubPEM))

	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), pubPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	fmt.Fprintf(out, "Files saved:\n  %s  <- keep secret\n  %s\n",
		filepath.Join(dir, privateKeyFile), filepath.Join(dir, publicKeyFile))
	return nil
}
