package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-discounts/internal/domain/discount"
	"github.com/xenking/storefront-discounts/internal/domain/ledger"
)

func (h *Handler) writeApplied(w http.ResponseWriter, res *discount.ApplyResult) {
	now := h.now()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("product")
		encodeProduct(e, res.Product, res.Coupon != nil)
		e.FieldStart("application")
		encodeApplication(e, res.Application)
		e.FieldStart("superseded_application_id")
		if res.Superseded != nil {
			e.Int64(res.Superseded.ID)
		} else {
			e.Null()
		}
		e.FieldStart("coupon")
		if res.Coupon != nil {
			encodeCoupon(e, res.Coupon, now)
		} else {
			e.Null()
		}
		e.ObjEnd()
	})
}

// applyPercentage handles POST /api/v1/products/{id}/discount/percent.
func (h *Handler) applyPercentage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}

	var (
		pct    decimal.Decimal
		hasPct bool
	)
	err = h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "percentage" {
			return d.Skip()
		}
		var err error
		pct, err = decodeDecimal(d, key)
		hasPct = true
		return err
	})
	if err == nil && !hasPct {
		err = errRequired("percentage")
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.discounts.ApplyPercentageDiscount(r.Context(), id, pct)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeApplied(w, res)
}

// applyCoupon handles POST /api/v1/products/{id}/discount/coupon.
func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}

	var code string
	err = h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = decodeString(d, key)
		return err
	})
	if err == nil && code == "" {
		err = errRequired("code")
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.discounts.ApplyCouponDiscount(r.Context(), id, code)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeApplied(w, res)
}

// removeDiscount handles DELETE /api/v1/products/{id}/discount.
func (h *Handler) removeDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.discounts.RemoveDiscount(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(res.Product.ID)
		e.FieldStart("removed_application_id")
		e.Int64(res.RemovedApplicationID)
		e.FieldStart("final_price")
		encodeMoney(e, res.FinalPrice)
		e.FieldStart("product")
		encodeProduct(e, res.Product, false)
		e.ObjEnd()
	})
}

// discountDetails handles GET /api/v1/products/{id}/discount.
func (h *Handler) discountDetails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}

	d, err := h.discounts.ProductDiscountDetails(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	now := h.now()
	p := d.Product
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(p.ID)
		e.FieldStart("product_name")
		e.Str(p.Name)
		e.FieldStart("original_price")
		encodeMoney(e, d.OriginalPrice)
		e.FieldStart("final_price")
		encodeMoney(e, d.FinalPrice)
		e.FieldStart("discount_amount")
		encodeMoney(e, p.DiscountAmount())
		e.FieldStart("discount_percentage")
		encodeDecimal(e, p.DiscountPercentage)
		e.FieldStart("has_discount")
		e.Bool(d.HasDiscount)
		e.FieldStart("discount_start_date")
		encodeTimePtr(e, p.DiscountStartDate)
		e.FieldStart("discount_end_date")
		encodeTimePtr(e, p.DiscountEndDate)
		e.FieldStart("active_application")
		if d.Active != nil {
			encodeApplication(e, d.Active)
		} else {
			e.Null()
		}
		e.FieldStart("coupon")
		if d.Coupon != nil {
			encodeCoupon(e, d.Coupon, now)
		} else {
			e.Null()
		}
		e.ObjEnd()
	})
}

// discountHistory handles GET /api/v1/products/{id}/discounts.
func (h *Handler) discountHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}

	apps, err := h.discounts.ListProductDiscounts(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(id)
		e.FieldStart("applications")
		encodeApplications(e, apps)
		e.ObjEnd()
	})
}

func encodeApplications(e *jx.Encoder, apps []ledger.Application) {
	e.ArrStart()
	for i := range apps {
		encodeApplication(e, &apps[i])
	}
	e.ArrEnd()
}
