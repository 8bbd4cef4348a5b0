// gacline manages platform sessions for the status line: it mints
// prefixed session ids, registers them in the shared mapping store and
// inspects the platform registry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DrayChou/gaccode-statusline/internal/config"
	"github.com/DrayChou/gaccode-statusline/internal/logging"
	"github.com/DrayChou/gaccode-statusline/internal/platform"
	"github.com/DrayChou/gaccode-statusline/internal/render"
	"github.com/DrayChou/gaccode-statusline/internal/session"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "gacline",
	Short:         "Session launcher for the multi-platform status line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv("CONFIG_PATH")
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		if _, err := logging.Init(cfg.Logging.Level, cfg.Logging.Output); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		return nil
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <platform>",
	Short: "Mint a session id for a platform and register the mapping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := cfg.ResolveAlias(args[0])
		pc, ok := cfg.Platform(id)
		if !ok {
			return fmt.Errorf("unknown platform %q", args[0])
		}
		if !cfg.Usable(id) {
			return fmt.Errorf("platform %q is not usable: enable it and set a credential", id)
		}

		sessionID, err := session.Encode(id)
		if err != nil {
			return err
		}

		store := session.New(session.Options{Path: cfg.MappingFile()})
		snapshot := session.ConfigSnapshot{
			APIBaseURL: pc.APIBaseURL,
			Model:      pc.Model,
			SmallModel: pc.SmallModel,
		}
		if err := store.Register(sessionID, id, snapshot); err != nil {
			return fmt.Errorf("register session mapping: %w", err)
		}

		// Scripts consume the bare id.
		fmt.Println(sessionID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the platform registry and credential status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, d := range platform.All() {
			pc, _ := cfg.Platform(d.ID)
			status := render.Dim.Render("disabled")
			if cfg.Usable(d.ID) {
				status = render.Green.Render("ready")
			} else if pc.Enabled {
				status = render.Yellow.Render("no credential")
			}
			fmt.Printf("%-2s  %-12s  %-12s  %s\n", d.PrefixCode, d.ID, status, pc.Name)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <session-id> <platform>",
	Short: "Backfill a mapping for an externally created session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		id := cfg.ResolveAlias(args[1])
		pc, ok := cfg.Platform(id)
		if !ok {
			return fmt.Errorf("unknown platform %q", args[1])
		}
		if _, known := platform.ByID(id); !known {
			return fmt.Errorf("platform %q has no provider", id)
		}

		store := session.New(session.Options{Path: cfg.MappingFile()})
		snapshot := session.ConfigSnapshot{
			APIBaseURL: pc.APIBaseURL,
			Model:      pc.Model,
			SmallModel: pc.SmallModel,
		}
		if err := store.Register(sessionID, id, snapshot); err != nil {
			return fmt.Errorf("register session mapping: %w", err)
		}

		fmt.Printf("Registered %s -> %s\n", sessionID, id)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (defaults to CONFIG_PATH or the standard locations)")
	rootCmd.AddCommand(launchCmd, listCmd, registerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
