package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ekisa-team/clearbg/internal/batch"
	"github.com/ekisa-team/clearbg/internal/env"
	"github.com/ekisa-team/clearbg/internal/logger"
)

var errNothingSucceeded = errors.New("no image was processed successfully")

func main() {
	_ = godotenv.Load()

	slog.SetDefault(logger.New(env.FromEnv()))

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		inputDir  string
		outputDir string
		apiURL    string
		models    []string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:          "clearbg-batch",
		Short:        "Run every image of a directory through every background removal model",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if _, err := os.Stat(inputDir); err != nil {
				return fmt.Errorf("input directory not found: %s", inputDir)
			}

			client := batch.NewClient(apiURL, timeout)
			if err := client.Health(ctx); err != nil {
				return fmt.Errorf("%w (is clearbg running?)", err)
			}

			if len(models) == 0 {
				var err error
				if models, err = client.Models(ctx); err != nil {
					return fmt.Errorf("list models: %w", err)
				}
			}

			slog.Info("Starting batch", "input_dir", inputDir, "models", models, "api_url", apiURL)

			report, err := batch.Run(ctx, client, batch.Options{
				InputDir:  inputDir,
				OutputDir: outputDir,
				Models:    models,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), batch.Summary(report))

			if report.Succeeded() == 0 {
				return errNothingSucceeded
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input-dir", "", "Directory containing input images")
	cmd.Flags().StringVar(&outputDir, "output-dir", "./output", "Directory for output images")
	cmd.Flags().StringVar(&apiURL, "api-url", "http://localhost:8000", "API base URL")
	cmd.Flags().StringSliceVar(&models, "models", nil, "Models to test (default: every model the API lists)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout per request")
	_ = cmd.MarkFlagRequired("input-dir")

	return cmd
}
