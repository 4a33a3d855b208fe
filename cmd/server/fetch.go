package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/logo"
	"github.com/dgnsrekt/logowatch/internal/upstream"
)

func fetchCmd() *cobra.Command {
	var (
		output string
		opts   = logo.DefaultOptions()
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the current upstream logo once and write it as PNG",
		Long: `Fetch the current logo from the upstream once and write it as PNG.

Examples:
  # Save the canonical rendering
  logowatch fetch -o logo.png

  # Render a single character at 8x scale, cropped
  logowatch fetch --character 2 --size 8 --crop -o g.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := upstream.NewClient(cfg.Upstream.URL, cfg.Upstream.RatePerSecond, cfg.Upstream.Timeout, logger)

			image, l, err := client.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			if opts != logo.DefaultOptions() {
				if image, err = l.PNG(opts); err != nil {
					return err
				}
			}

			if err := writeFileAtomic(output, image); err != nil {
				return err
			}

			logger.Info("logo fetched",
				zap.String("output", output),
				zap.Int("bytes", len(image)),
				zap.Int("characters", l.Characters()),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "logo.png", "output file")
	cmd.Flags().IntVar(&opts.Size, "size", opts.Size, "pixel scale (1-16)")
	cmd.Flags().IntVar(&opts.Character, "character", opts.Character, "render a single character (0-6), -1 for all")
	cmd.Flags().BoolVar(&opts.Crop, "crop", opts.Crop, "crop the empty top row of a single character")

	return cmd
}

// writeFileAtomic writes to a temp file beside path and renames it into place,
// so a reader never sees a partial PNG.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
