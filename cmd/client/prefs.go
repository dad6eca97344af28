package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceClient/internal/adapters/repo/toml"
	"github.com/dkeye/VoiceClient/internal/domain"
)

// Preference edits go straight to the file; a running client picks them up
// through its watcher.
func newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change layout preferences",
	}
	cmd.AddCommand(
		newPrefsShowCmd(),
		prefsSetter("mode <auto|tiled|spotlight|sidebar>", "Set the layout mode", func(p *domain.LayoutPreferences, arg string) error {
			m, err := domain.ParseLayoutMode(arg)
			if err != nil {
				return err
			}
			return p.SetMode(m)
		}),
		prefsSetter("tiles <n>", "Set the maximum tiles in tiled mode", func(p *domain.LayoutPreferences, arg string) error {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("tiles: %w", err)
			}
			return p.SetTiledMaxTiles(n)
		}),
		prefsSetter("self-view <in-grid-cropped|in-grid-uncropped|floating-uncropped>", "Set how the local camera is shown", func(p *domain.LayoutPreferences, arg string) error {
			m, err := domain.ParseSelfViewMode(arg)
			if err != nil {
				return err
			}
			return p.SetSelfViewMode(m)
		}),
		prefsSetter("hide-non-video <true|false>", "Hide participants without live video", func(p *domain.LayoutPreferences, arg string) error {
			v, err := strconv.ParseBool(arg)
			if err != nil {
				return fmt.Errorf("hide-non-video: %w", err)
			}
			p.SetHideNonVideo(v)
			return nil
		}),
		prefsSetter("pin <stream-key>", "Pin a stream", func(p *domain.LayoutPreferences, arg string) error {
			if p.IsPinned(domain.StreamKey(arg)) {
				return nil
			}
			_, err := p.TogglePin(domain.StreamKey(arg))
			return err
		}),
		prefsSetter("unpin <stream-key>", "Unpin a stream", func(p *domain.LayoutPreferences, arg string) error {
			p.Unpin(domain.StreamKey(arg))
			return nil
		}),
		&cobra.Command{
			Use:   "reset",
			Short: "Restore default preferences",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(cmd)
				if err != nil {
					return err
				}
				if err := store.Save(domain.DefaultPreferences()); err != nil {
					return err
				}
				return printPrefs(cmd, domain.DefaultPreferences())
			},
		},
	)
	return cmd
}

func openStore(cmd *cobra.Command) (*toml.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return toml.NewStore(cfg.PrefsPath)
}

func newPrefsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored preferences as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			p, err := store.Load()
			if err != nil {
				return err
			}
			return printPrefs(cmd, p)
		},
	}
}

func prefsSetter(use, short string, apply func(p *domain.LayoutPreferences, arg string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			p, err := store.Load()
			if err != nil {
				return err
			}
			if err := apply(&p, args[0]); err != nil {
				return err
			}
			if err := store.Save(p); err != nil {
				return err
			}
			return printPrefs(cmd, p)
		},
	}
}

func printPrefs(cmd *cobra.Command, p domain.LayoutPreferences) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
