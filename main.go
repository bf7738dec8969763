package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/ccfrost/poseup/internal/config"
	"github.com/ccfrost/poseup/internal/lib"
	"github.com/spf13/cobra"
)

const poseup = "poseup"

func main() {
	var configPath string
	var cfg config.PoseupConfig

	rootCmd := cobra.Command{
		Use:   poseup,
		Short: "Send images to the pose estimation service and collect the results",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			lib.Logger().Debug("Loaded config",
				slog.String("path", cfg.ConfigPath()),
				slog.String("endpoint", cfg.Endpoint()))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")

	uploadCmd := cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload images for pose estimation",
		Long: `Upload images to the pose estimation service as one batch.
All images are uploaded concurrently. If any upload fails, nothing is written.
On success the processed images are written to a gallery with an index.html.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if cmd.Flags().Changed("out") {
				out, err := cmd.Flags().GetString("out")
				if err != nil {
					fmt.Fprintln(os.Stderr, "error: invalid out flag:", err)
					os.Exit(1)
				}
				cfg.OutputDir = out
			}
			if cmd.Flags().Changed("origin") {
				origin, err := cmd.Flags().GetString("origin")
				if err != nil {
					fmt.Fprintln(os.Stderr, "error: invalid origin flag:", err)
					os.Exit(1)
				}
				cfg.ServiceOrigin = origin
			}
			metricsFile, err := cmd.Flags().GetString("metrics-file")
			if err != nil {
				fmt.Fprintln(os.Stderr, "error: invalid metrics-file flag:", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			busy := lib.NewBusyIndicator(os.Stderr, "uploading")
			err = lib.UploadImages(ctx, cfg, args, lib.UploadOptions{
				MetricsFile:  metricsFile,
				Out:          os.Stdout,
				OnBusyChange: busy.SetBusy,
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				stop()
				os.Exit(1)
			}
		},
	}
	uploadCmd.Flags().StringP("out", "o", "", "Gallery output directory (overrides output_dir)")
	uploadCmd.Flags().String("origin", "", "Processing service origin, e.g. http://localhost:8000 (overrides service_origin)")
	uploadCmd.Flags().String("metrics-file", "", "Write run metrics in Prometheus text format to this file")
	rootCmd.AddCommand(&uploadCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
