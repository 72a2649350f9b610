// Command coupon-import bulk-loads coupons from gzip-compressed CSV files.
//
// Each line holds code,percentage,valid_from,valid_until,usage_limit,description.
// Files are parsed concurrently, duplicate codes are dropped keeping the first
// occurrence in file name order, and the rest are created through the coupon
// service so every lifecycle rule applies.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/repository"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		workers     int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "concurrent file parsers and writers")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, max(1, workers), dryRun); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, workers int, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}
	slices.Sort(files)

	lg.Info("Parsing files", zap.Int("files", len(files)))
	parsed, err := parseFiles(ctx, lg, files, workers)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	rows, dupes := dedupe(parsed)
	lg.Info("Deduplicated",
		zap.Int("unique", len(rows)),
		zap.Int("duplicates", dupes),
	)
	if dryRun || len(rows) == 0 {
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc := coupon.NewService(repository.NewTransactor(pool, 3), repository.NewCouponRepository(pool))
	stats, err := importRows(ctx, lg, svc, rows, workers)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}
	lg.Info("Import finished",
		zap.Int64("created", stats.created.Load()),
		zap.Int64("skipped", stats.skipped.Load()),
	)
	return nil
}
