package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/pkg/credentials"
)

var sealCmd = &cobra.Command{
	Use:   "seal <value>",
	Short: "Seal a credential value for storage",
	Long: `Seal a plaintext credential value with the configured encryption key.
The output envelope can be pasted into an integration's credentials block
and is only decrypted at connection time.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeal,
}

func init() {
	rootCmd.AddCommand(sealCmd)
}

func runSeal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	key, err := cfg.Credentials.DecodeKey()
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return fmt.Errorf("no credentials key configured, set credentials.key first")
	}

	resolver, err := credentials.NewAESResolver(key)
	if err != nil {
		return err
	}

	sealed, err := resolver.Seal(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}
