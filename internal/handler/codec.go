package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/ledger"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
	"github.com/xenking/storefront-discounts/internal/domain/product"
	"github.com/xenking/storefront-discounts/pkg/timefmt"
)

// writeJSON encodes the body produced by enc and writes it with status.
func writeJSON(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	var e jx.Encoder
	enc(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(timefmt.Format(t))
}

func encodeTimePtr(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	encodeTime(e, *t)
}

// encodeMoney writes d as a JSON number with exactly two decimals.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

// encodeDecimal writes d as a JSON number without trailing zeros.
func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

// decodeBody reads a JSON object from the request body, calling field for
// every key. Unknown keys must be skipped by field.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body too large")
		}
		return errors.Wrap(err, "read body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperr.Validation("request body is required")
	}

	d := jx.DecodeBytes(body)
	if err := d.Obj(field); err != nil {
		if apperr.IsValidation(err) {
			return err
		}
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

// isNull consumes a JSON null and reports whether the value was null.
func isNull(d *jx.Decoder) (bool, error) {
	if d.Next() != jx.Null {
		return false, nil
	}
	return true, d.Null()
}

func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		return decimal.Zero, apperr.Validationf("%s must be a number", field)
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, apperr.Validationf("%s must be a number", field)
	}
	return v, nil
}

func decodeInt(d *jx.Decoder, field string) (int, error) {
	if d.Next() != jx.Number {
		return 0, apperr.Validationf("%s must be an integer", field)
	}
	v, err := d.Int()
	if err != nil {
		return 0, apperr.Validationf("%s must be an integer", field)
	}
	return v, nil
}

func decodeString(d *jx.Decoder, field string) (string, error) {
	if d.Next() != jx.String {
		return "", apperr.Validationf("%s must be a string", field)
	}
	return d.Str()
}

// decodeOptionalString treats null as the empty string.
func decodeOptionalString(d *jx.Decoder, field string) (string, error) {
	if null, err := isNull(d); null || err != nil {
		return "", err
	}
	return decodeString(d, field)
}

func errRequired(field string) error {
	return apperr.Validationf("%s is required", field)
}

func decodeTime(d *jx.Decoder, field string) (time.Time, error) {
	s, err := decodeString(d, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := timefmt.Parse(s)
	if err != nil {
		return time.Time{}, apperr.Validationf("%s must be an RFC 3339 timestamp", field)
	}
	return t, nil
}

func encodeMeta(e *jx.Encoder, m paging.Meta) {
	e.ObjStart()
	e.FieldStart("page")
	e.Int(m.Page)
	e.FieldStart("pages")
	e.Int(m.Pages)
	e.FieldStart("per_page")
	e.Int(m.PerPage)
	e.FieldStart("total")
	e.Int(m.Total)
	e.FieldStart("has_next")
	e.Bool(m.HasNext)
	e.FieldStart("has_prev")
	e.Bool(m.HasPrev)
	e.ObjEnd()
}

func encodeProduct(e *jx.Encoder, p *product.Product, couponApplied bool) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.FieldStart("final_price")
	encodeMoney(e, p.FinalPrice())
	e.FieldStart("discount_amount")
	encodeMoney(e, p.DiscountAmount())
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("is_out_of_stock")
	e.Bool(p.IsOutOfStock())
	e.FieldStart("is_active")
	e.Bool(p.IsActive)
	e.FieldStart("has_active_discount")
	e.Bool(p.HasActiveDiscount)
	e.FieldStart("has_coupon_applied")
	e.Bool(couponApplied)
	e.FieldStart("discount")
	if p.HasActiveDiscount {
		e.ObjStart()
		e.FieldStart("percentage")
		encodeDecimal(e, p.DiscountPercentage)
		e.FieldStart("amount")
		encodeMoney(e, p.DiscountAmount())
		e.FieldStart("start_date")
		encodeTimePtr(e, p.DiscountStartDate)
		e.FieldStart("end_date")
		encodeTimePtr(e, p.DiscountEndDate)
		e.ObjEnd()
	} else {
		e.Null()
	}
	e.FieldStart("discount_end_date")
	encodeTimePtr(e, p.DiscountEndDate)
	e.FieldStart("created_at")
	encodeTime(e, p.CreatedAt)
	e.FieldStart("updated_at")
	encodeTimePtr(e, p.UpdatedAt)
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon, now time.Time) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discount_percentage")
	encodeDecimal(e, c.DiscountPercentage)
	e.FieldStart("valid_from")
	encodeTime(e, c.ValidFrom)
	e.FieldStart("valid_until")
	encodeTime(e, c.ValidUntil)
	e.FieldStart("usage_limit")
	e.Int(c.UsageLimit)
	e.FieldStart("usage_count")
	e.Int(c.UsageCount)
	e.FieldStart("remaining_uses")
	e.Int(c.RemainingUses())
	e.FieldStart("is_active")
	e.Bool(c.IsActive)
	e.FieldStart("is_valid")
	e.Bool(c.IsValid(now))
	e.FieldStart("is_expired")
	e.Bool(c.IsExpired(now))
	e.FieldStart("is_not_started")
	e.Bool(c.IsNotStarted(now))
	e.FieldStart("is_limit_reached")
	e.Bool(c.IsLimitReached())
	e.FieldStart("created_at")
	encodeTime(e, c.CreatedAt)
	e.FieldStart("updated_at")
	encodeTimePtr(e, c.UpdatedAt)
	e.ObjEnd()
}

func encodeApplication(e *jx.Encoder, a *ledger.Application) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(a.ID)
	e.FieldStart("product_id")
	e.Int64(a.ProductID)
	e.FieldStart("source")
	e.Str(string(a.Source.Kind()))
	e.FieldStart("coupon_id")
	if id, ok := a.Source.CouponID(); ok {
		e.Int64(id)
	} else {
		e.Null()
	}
	e.FieldStart("discount_percentage")
	encodeDecimal(e, a.DiscountPercentage)
	e.FieldStart("discount_amount")
	encodeMoney(e, a.DiscountAmount)
	e.FieldStart("applied_at")
	encodeTime(e, a.AppliedAt)
	e.FieldStart("is_active")
	e.Bool(a.IsActive)
	e.ObjEnd()
}
