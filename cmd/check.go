//go:build linux

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/smazurov/screenglow/internal/app"
	"github.com/smazurov/screenglow/internal/config"
)

// ConfigLoader builds the daemon configuration from the parsed root options.
type ConfigLoader func() (app.Config, error)

// CreateCheckCmd creates the check command.
func CreateCheckCmd(load ConfigLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and strip layout",
		Long:  `Loads the configuration and strip layout the daemon would run with and reports problems without opening any device.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return check(cmd.OutOrStdout(), cfg)
		},
	}
}

func check(w io.Writer, cfg app.Config) error {
	strip, err := app.New(cfg, app.Options{}).LoadLayout(cfg.LayoutPath)
	if err != nil {
		return err
	}
	describe(w, cfg, strip)
	return nil
}

func describe(w io.Writer, cfg app.Config, strip config.Strip) {
	fmt.Fprintf(w, "Layout:  %s\n", cfg.LayoutPath)
	fmt.Fprintf(w, "Lights:  %d (%d regions)\n", strip.LEDs, len(strip.Regions))
	fmt.Fprintf(w, "Source:  %s\n", cfg.Source)
	fmt.Fprintf(w, "Serial:  %s @ %d baud, flow %s\n", cfg.Serial.Device, cfg.Serial.Baud, cfg.Serial.FlowControl)
	if cfg.MaxFPS > 0 {
		fmt.Fprintf(w, "Max FPS: %g\n", cfg.MaxFPS)
	}
	fmt.Fprintln(w, "OK")
}
