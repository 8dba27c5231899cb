package cli

import (
	"fmt"
	"strconv"
	"strings"

	"scorematrix-cli/internal/config"
	"scorematrix-cli/internal/logs"

	"github.com/spf13/cobra"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the user config (config.toml)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config (file + env)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{"dir": config.Dir(), "config": cfg},
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one key (store.dir, user.id, log.level, log.file, output.format, output.pretty)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := setConfigKey(&cfg, args[0], args[1]); err != nil {
				return writeErr(cmd, err)
			}
			if err := config.Save(cfg); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": cfg})
		},
	})
	return cmd
}

func setConfigKey(cfg *config.Config, key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "store.dir":
		cfg.Store.Dir = value
	case "user.id":
		cfg.User.ID = value
	case "log.level":
		if _, err := logs.ParseLevel(value); err != nil {
			return err
		}
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "output.format":
		v := strings.ToLower(value)
		if v != "json" && v != "yaml" {
			return fmt.Errorf("invalid output.format %q (expected json|yaml)", value)
		}
		cfg.Output.Format = v
	case "output.pretty":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid output.pretty %q: %w", value, err)
		}
		cfg.Output.Pretty = b
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return nil
}
