package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/pkg/agent"
)

var validateAgentsOrg string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the RelayDesk configuration",
	Long: `Validate the runtime configuration file without starting the server.
With --org, also validates every agent configuration in that
organization's catalog.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateAgentsOrg, "org", "", "also validate the agent catalog for this organization")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintf(out, "Configuration OK: %s\n", loader.GetConfigPath())
	fmt.Fprintf(out, "  server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  database: %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "  providers: %d\n", len(cfg.Providers))

	if validateAgentsOrg == "" {
		return nil
	}

	catalog := agent.NewCatalog(cfg.DataDir+"/agents", zerolog.Nop())
	configs, err := catalog.List(context.Background(), validateAgentsOrg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  agents (%s): %d\n", validateAgentsOrg, len(configs))
	for _, c := range configs {
		status := "active"
		if !c.IsActive {
			status = "inactive"
		}
		fmt.Fprintf(out, "    %s (%s, %s)\n", c.ID, c.Model, status)
	}

	return nil
}
