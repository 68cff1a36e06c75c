package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/screenglow/internal/layout"
)

// CreateLayoutCmd creates the layout command.
func CreateLayoutCmd() *cobra.Command {
	var opts layout.Options
	var segments string
	var output string

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Generate a strip layout for a screen",
		Long: `Tiles the screen border into capture regions, one per light, and writes them as a layout file. ` +
			`Segments are counted right, top, left, bottom, following the strip counter-clockwise from the bottom-right corner.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seg, err := layout.ParseSegments(segments)
			if err != nil {
				return err
			}
			opts.Segments = seg
			return writeLayout(cmd.OutOrStdout(), output, opts)
		},
	}

	cmd.Flags().Uint32Var(&opts.Width, "width", 2560, "Screen width in pixels")
	cmd.Flags().Uint32Var(&opts.Height, "height", 1440, "Screen height in pixels")
	cmd.Flags().StringVarP(&segments, "segments", "s", "20,40,20,40", "Lights per edge: right,top,left,bottom")
	cmd.Flags().Uint32Var(&opts.Depth, "depth", 0, "Region depth into the screen (0 makes square regions)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func writeLayout(stdout io.Writer, path string, opts layout.Options) error {
	regions, err := layout.Generate(opts)
	if err != nil {
		return err
	}
	if path == "" {
		return layout.Encode(stdout, opts, regions)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := layout.Encode(f, opts, regions); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %d regions to %s\n", len(regions), path)
	return nil
}
