// Command catalogload writes card records from JSON files into the catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/config"
	dbRedis "github.com/kailas-cloud/cardsense/internal/db/redis"
	"github.com/kailas-cloud/cardsense/internal/domain/card"
	logpkg "github.com/kailas-cloud/cardsense/internal/logger"
	catalogrepo "github.com/kailas-cloud/cardsense/internal/repository/catalog"
)

var (
	envFlag    string
	dryRunFlag bool
	removeFlag []string
)

var rootCmd = &cobra.Command{
	Use:   "catalogload [file...]",
	Short: "Load credit card records into the cardsense catalog",
	Long: `Reads JSON files holding an array of card objects (or {"cards": [...]})
and stores every card keyed by its Card_ID. Existing cards with the same id are replaced.
Cards named with --remove are deleted after the files are loaded.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && len(removeFlag) == 0 {
			return fmt.Errorf("requires at least one file or --remove")
		}
		return nil
	},
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&envFlag, "env", config.GetEnv(), "config environment (config/<env>.yaml)")
	rootCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "validate files without writing")
	rootCmd.Flags().StringSliceVar(&removeFlag, "remove", nil, "Card_ID values to delete from the catalog")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logpkg.NewLogger(envFlag, "catalogload", cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var cards []card.Card
	for _, path := range args {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		batch, skipped, err := decodeCards(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if skipped > 0 {
			logger.Warn("cards without Card_ID skipped", zap.String("file", path), zap.Int("skipped", skipped))
		}
		logger.Info("file parsed", zap.String("file", path), zap.Int("cards", len(batch)))
		cards = append(cards, batch...)
	}

	if dryRunFlag {
		cmd.Printf("%d cards valid, %d removals, nothing written\n", len(cards), len(removeFlag))
		return nil
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Username:   cfg.Database.Username,
		Password:   cfg.Database.Password,
		DB:         cfg.Database.DB,
		ClientName: "cardsense-catalogload",
	})
	if err != nil {
		return fmt.Errorf("create database store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	repo := catalogrepo.New(store, cfg.Storage.KeyPrefix)
	for start := 0; start < len(cards); start += batchSize {
		end := min(start+batchSize, len(cards))
		if err := repo.Put(ctx, cards[start:end]); err != nil {
			return fmt.Errorf("store cards %d-%d: %w", start, end, err)
		}
	}

	for _, id := range removeFlag {
		if err := repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("remove card %s: %w", id, err)
		}
	}

	logger.Info("catalog loaded", zap.Int("cards", len(cards)), zap.Int("removed", len(removeFlag)))
	cmd.Printf("%d cards loaded, %d removed\n", len(cards), len(removeFlag))
	return nil
}
