package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/umkhondo/internal/config"
	"github.com/vanshika/umkhondo/internal/generator"
	"github.com/vanshika/umkhondo/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "datagen",
		Short:        "Generate and deliver synthetic M-Pesa callbacks",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(sendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func generateCmd() *cobra.Command {
	cfg := generator.DefaultConfig()
	var (
		output string
		stdout bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a seeded dataset of C2B confirmations and STK results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			dataset, err := generator.New(cfg).Generate(ctx)
			if err != nil {
				return fmt.Errorf("generation failed: %w", err)
			}

			if stdout {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(dataset)
			}
			if err := generator.WriteDataset(dataset, output); err != nil {
				return err
			}
			s := dataset.Stats
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d callbacks into %s (merchant %d, completed %d, failed %d, cancelled %d, duplicates %d)\n",
				len(dataset.Callbacks), output, s.Merchant, s.Completed, s.Failed, s.Cancelled, s.Duplicates)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&cfg.NumCallbacks, "count", "n", cfg.NumCallbacks, "number of distinct callbacks")
	flags.Float64Var(&cfg.MerchantRatio, "merchant-ratio", cfg.MerchantRatio, "share of C2B confirmations")
	flags.Float64Var(&cfg.FailureRatio, "fail-ratio", cfg.FailureRatio, "share of push results that fail")
	flags.Float64Var(&cfg.CancelRatio, "cancel-ratio", cfg.CancelRatio, "share of push results the customer cancels")
	flags.Float64Var(&cfg.DuplicateRatio, "duplicate-ratio", cfg.DuplicateRatio, "chance a callback is redelivered")
	flags.IntVar(&cfg.NumSubscribers, "subscribers", cfg.NumSubscribers, "number of distinct paying numbers")
	flags.StringVar(&cfg.ShortCode, "shortcode", cfg.ShortCode, "business short code on C2B confirmations")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for deterministic generation")
	flags.StringVarP(&output, "output", "o", "data/callbacks.json", "dataset file to write")
	flags.BoolVar(&stdout, "stdout", false, "write the dataset to stdout instead of a file")

	return cmd
}

func sendCmd() *cobra.Command {
	var (
		input   string
		baseURL string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post a dataset to a running server's callback endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.New(cfg.Logging).With("component", "datagen")

			dataset, err := generator.ReadDataset(input)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			start := time.Now()
			summary, err := generator.NewSender(nil, baseURL, workers, logger).Send(ctx, dataset.Callbacks)
			logger.Info("delivery finished",
				"sent", summary.Sent,
				"accepted", summary.Accepted,
				"rejected", summary.Rejected,
				"duration", time.Since(start).String(),
			)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "data/callbacks.json", "dataset file to send")
	flags.StringVar(&baseURL, "url", "http://localhost:8080", "base URL of the payment service")
	flags.IntVarP(&workers, "workers", "w", 4, "concurrent deliveries")

	return cmd
}
