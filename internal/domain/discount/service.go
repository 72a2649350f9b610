// Package discount applies and removes product discounts. Every operation runs
// as one transaction spanning the coupon, the product and the ledger.
package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/ledger"
	"github.com/xenking/storefront-discounts/internal/domain/product"
)

const instrumentationName = "github.com/xenking/storefront-discounts/internal/domain/discount"

// Transactor runs fn inside a single atomic transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ApplyResult describes a discount that was just placed on a product.
type ApplyResult struct {
	Product     *product.Product
	Application *ledger.Application
	// Coupon is set for coupon-derived discounts and reflects the consumed
	// usage unit.
	Coupon *coupon.Coupon
	// Superseded is the entry that was active before, if any.
	Superseded *ledger.Application
}

// RemoveResult describes a removed discount.
type RemoveResult struct {
	Product              *product.Product
	RemovedApplicationID int64
	FinalPrice           decimal.Decimal
}

// Details is the pricing breakdown of a product.
type Details struct {
	Product       *product.Product
	OriginalPrice decimal.Decimal
	FinalPrice    decimal.Decimal
	HasDiscount   bool
	// Active is nil when the product has no active ledger entry.
	Active *ledger.Application
	// Coupon is the source coupon of Active, if it came from one.
	Coupon *coupon.Coupon
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for every validity check and timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// Service orchestrates discount application.
type Service struct {
	tx       Transactor
	products product.Repository
	coupons  coupon.Repository
	ledger   ledger.Repository

	now     func() time.Time
	tracer  trace.Tracer
	meter   metric.Meter
	applied metric.Int64Counter
	removed metric.Int64Counter
}

// NewService creates a discount Service.
func NewService(
	tx Transactor,
	products product.Repository,
	coupons coupon.Repository,
	entries ledger.Repository,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		tx:       tx,
		products: products,
		coupons:  coupons,
		ledger:   entries,
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:    metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.applied, err = s.meter.Int64Counter("discount.applied",
		metric.WithDescription("Discounts applied to products"),
	); err != nil {
		return nil, errors.Wrap(err, "create applied counter")
	}
	if s.removed, err = s.meter.Int64Counter("discount.removed",
		metric.WithDescription("Discounts removed from products"),
	); err != nil {
		return nil, errors.Wrap(err, "create removed counter")
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) start(ctx context.Context, name string, productID int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int64("product.id", productID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ApplyPercentageDiscount places a direct percentage discount on a product,
// superseding whatever discount it had.
func (s *Service) ApplyPercentageDiscount(ctx context.Context, productID int64, pct decimal.Decimal) (_ *ApplyResult, rerr error) {
	ctx, span := s.start(ctx, "discount.ApplyPercentageDiscount", productID)
	defer func() { endSpan(span, rerr) }()

	if err := product.ValidateDiscountPercentage(pct); err != nil {
		return nil, err
	}

	var res *ApplyResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.clock()

		p, err := s.lockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := p.ApplyPercentageDiscount(pct, now); err != nil {
			return err
		}

		res, err = s.record(ctx, p, ledger.Direct(), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(ledger.KindDirect))))
	zctx.From(ctx).Info("Direct discount applied",
		zap.Int64("product_id", productID),
		zap.String("percentage", pct.String()),
		zap.Int64("application_id", res.Application.ID),
	)
	return res, nil
}

// ApplyCouponDiscount consumes one usage unit of the coupon and places its
// percentage on the product. Either all of it is committed or none of it.
func (s *Service) ApplyCouponDiscount(ctx context.Context, productID int64, code string) (_ *ApplyResult, rerr error) {
	ctx, span := s.start(ctx, "discount.ApplyCouponDiscount", productID)
	defer func() { endSpan(span, rerr) }()

	code = coupon.NormalizeCode(code)
	span.SetAttributes(attribute.String("coupon.code", code))

	var res *ApplyResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.clock()

		p, err := s.lockProduct(ctx, productID)
		if err != nil {
			return err
		}

		c, err := s.coupons.FindByCodeForUpdate(ctx, code)
		if err != nil {
			if errors.Is(err, coupon.ErrNotFound) {
				return apperr.Validation(string(coupon.ReasonNotFound))
			}
			return fmt.Errorf("lock coupon: %w", err)
		}
		if err := c.Use(now); err != nil {
			return err
		}
		if err := p.ApplyPercentageDiscount(c.DiscountPercentage, now); err != nil {
			return err
		}
		if err := s.coupons.RecordUsage(ctx, c); err != nil {
			return err
		}

		res, err = s.record(ctx, p, ledger.FromCoupon(c.ID), now)
		if err != nil {
			return err
		}
		res.Coupon = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(ledger.KindCoupon))))
	zctx.From(ctx).Info("Coupon discount applied",
		zap.Int64("product_id", productID),
		zap.String("code", code),
		zap.Int("usage_count", res.Coupon.UsageCount),
		zap.Int64("application_id", res.Application.ID),
	)
	return res, nil
}

// record persists the product's new discount state and supersedes its ledger
// entry. The amount is always computed from the base price.
func (s *Service) record(ctx context.Context, p *product.Product, src ledger.Source, now time.Time) (*ApplyResult, error) {
	if err := s.products.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	app := &ledger.Application{
		ProductID:          p.ID,
		Source:             src,
		DiscountAmount:     product.AmountOff(p.Price, p.DiscountPercentage),
		DiscountPercentage: p.DiscountPercentage,
		AppliedAt:          now,
	}
	prev, err := ledger.Supersede(ctx, s.ledger, app)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Product: p, Application: app, Superseded: prev}, nil
}

// RemoveDiscount deactivates the product's active discount. The usage unit of
// a coupon-derived discount is not refunded.
func (s *Service) RemoveDiscount(ctx context.Context, productID int64) (_ *RemoveResult, rerr error) {
	ctx, span := s.start(ctx, "discount.RemoveDiscount", productID)
	defer func() { endSpan(span, rerr) }()

	var res *RemoveResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.clock()

		p, err := s.lockProduct(ctx, productID)
		if err != nil {
			return err
		}
		active, err := s.ledger.FindActiveByProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := s.ledger.Deactivate(ctx, active.ID); err != nil {
			return err
		}

		p.RemoveDiscount(now)
		if err := s.products.Update(ctx, p); err != nil {
			return fmt.Errorf("update product: %w", err)
		}

		res = &RemoveResult{
			Product:              p,
			RemovedApplicationID: active.ID,
			FinalPrice:           p.FinalPrice(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.removed.Add(ctx, 1)
	zctx.From(ctx).Info("Discount removed",
		zap.Int64("product_id", productID),
		zap.Int64("application_id", res.RemovedApplicationID),
	)
	return res, nil
}

// ProductDiscountDetails returns the pricing breakdown of a product. The
// product row is locked so the ledger read cannot interleave with an apply or
// remove.
func (s *Service) ProductDiscountDetails(ctx context.Context, productID int64) (*Details, error) {
	var d *Details
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.lockProduct(ctx, productID)
		if err != nil {
			return err
		}
		d = &Details{
			Product:       p,
			OriginalPrice: p.Price,
			FinalPrice:    p.FinalPrice(),
			HasDiscount:   p.HasActiveDiscount,
		}

		active, err := s.ledger.FindActiveByProduct(ctx, productID)
		switch {
		case err == nil:
			d.Active = active
		case errors.Is(err, ledger.ErrNoActive):
			return nil
		default:
			return fmt.Errorf("find active application: %w", err)
		}

		id, ok := active.Source.CouponID()
		if !ok {
			return nil
		}
		c, err := s.coupons.GetByID(ctx, id)
		switch {
		case err == nil:
			d.Coupon = c
		case errors.Is(err, coupon.ErrNotFound):
		default:
			return fmt.Errorf("get coupon: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListProductDiscounts returns the product's full discount history, newest
// first.
func (s *Service) ListProductDiscounts(ctx context.Context, productID int64) ([]ledger.Application, error) {
	if _, err := s.activeProduct(ctx, productID); err != nil {
		return nil, err
	}
	apps, err := s.ledger.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// CouponApplied reports whether the product's active discount came from a
// coupon.
func (s *Service) CouponApplied(ctx context.Context, productID int64) (bool, error) {
	active, err := s.ledger.FindActiveByProduct(ctx, productID)
	switch {
	case err == nil:
		return active.Source.Kind() == ledger.KindCoupon, nil
	case errors.Is(err, ledger.ErrNoActive):
		return false, nil
	default:
		return false, fmt.Errorf("find active application: %w", err)
	}
}

func (s *Service) lockProduct(ctx context.Context, id int64) (*product.Product, error) {
	p, err := s.products.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (s *Service) activeProduct(ctx context.Context, id int64) (*product.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, product.ErrNotFound
	}
	return p, nil
}
