//go:build linux

package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/screenglow/internal/app"
	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/config"
	"github.com/smazurov/screenglow/internal/logging"
	"github.com/smazurov/screenglow/internal/region"
	"github.com/smazurov/screenglow/internal/snapshot"
)

// CreateSnapshotCmd creates the snapshot command.
func CreateSnapshotCmd(load ConfigLoader) *cobra.Command {
	var output string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture one frame with the strip regions drawn on it",
		Long: `Captures a single frame from the configured output, outlines every region of the strip layout ` +
			`and fills a swatch with the color sampled for it. Useful for checking a layout against the screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			strip, err := config.LoadStrip(cfg.LayoutPath)
			if err != nil {
				return err
			}
			if err := config.Validate(strip, true); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := takeSnapshot(ctx, cfg.Capture, strip.Regions, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d regions to %s\n", len(strip.Regions), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "snapshot.png", "PNG file to write")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up if no frame arrives in time")
	return cmd
}

func takeSnapshot(ctx context.Context, cfg app.CaptureConfig, regions []region.Region, path string) error {
	logger := logging.GetLogger("snapshot")

	sampler, err := region.New(cfg.Sampling)
	if err != nil {
		return err
	}
	rec := &snapshot.Recorder{Sampler: sampler}

	capt, err := app.OpenCapture(ctx, cfg, regions, rec, nil, logger)
	if err != nil {
		return err
	}
	defer capt.Close()

	var img *image.RGBA
	var sampled colors.Buffer
	for img == nil {
		if _, err := capt.NextColors(ctx); err != nil {
			return err
		}
		if img, sampled, err = rec.Frame(); err != nil {
			return err
		}
	}
	snapshot.Annotate(img, regions, sampled)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := snapshot.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
