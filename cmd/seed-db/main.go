// Command seed-db migrates the database and seeds products, coupons and an
// admin API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/auth"
	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/product"
	"github.com/xenking/storefront-discounts/internal/repository"
)

type seedFile struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type couponJSON struct {
	Code               string          `json:"code"`
	Description        string          `json:"description"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	// ValidDays is the length of the validity window starting now.
	ValidDays  int  `json:"valid_days"`
	UsageLimit *int `json:"usage_limit"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath, apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath, apiKey, pepper string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	tx := repository.NewTransactor(pool, 3)
	products := product.NewService(tx, repository.NewProductRepository(pool))
	coupons := coupon.NewService(tx, repository.NewCouponRepository(pool))

	if err := seedProducts(ctx, lg, products, seed.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, lg, coupons, seed.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	keys := repository.NewAPIKeyRepository(pool)
	if err := seedAPIKey(ctx, lg, keys, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

// Rows that fail validation, such as names that already exist, are skipped so
// the tool can be re-run.
func seedProducts(ctx context.Context, lg *zap.Logger, svc *product.Service, products []productJSON) error {
	lg.Info("Seeding products", zap.Int("count", len(products)))
	for _, p := range products {
		created, err := svc.Create(ctx, product.CreateParams{
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Stock:       p.Stock,
		})
		if apperr.IsValidation(err) {
			lg.Info("Skipped product", zap.String("name", p.Name), zap.String("reason", err.Error()))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create product %q", p.Name)
		}
		lg.Info("Created product", zap.Int64("id", created.ID), zap.String("name", created.Name))
	}
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, svc *coupon.Service, coupons []couponJSON) error {
	lg.Info("Seeding coupons", zap.Int("count", len(coupons)))
	now := time.Now().UTC()
	for _, c := range coupons {
		days := c.ValidDays
		if days <= 0 {
			days = 30
		}
		created, err := svc.Create(ctx, coupon.CreateParams{
			Code:               c.Code,
			Description:        c.Description,
			DiscountPercentage: c.DiscountPercentage,
			ValidFrom:          now,
			ValidUntil:         now.AddDate(0, 0, days),
			UsageLimit:         c.UsageLimit,
		})
		if apperr.IsValidation(err) {
			lg.Info("Skipped coupon", zap.String("code", c.Code), zap.String("reason", err.Error()))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create coupon %q", c.Code)
		}
		lg.Info("Created coupon", zap.String("code", created.Code), zap.String("percentage", created.DiscountPercentage.String()))
	}
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, keys *repository.APIKeyRepository, apiKey, pepper string) error {
	hash := auth.NewAuthenticator(keys, []byte(pepper)).Hash(apiKey)
	if err := keys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: hash,
		Name:    "Admin key",
		Scopes:  []string{auth.ScopeCatalogWrite},
	}); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}
	lg.Info("Upserted API key", zap.String("id", "admin"))
	return nil
}
