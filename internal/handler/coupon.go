package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-discounts/internal/domain/coupon"
)

func (h *Handler) writeCoupon(w http.ResponseWriter, status int, c *coupon.Coupon) {
	now := h.now()
	writeJSON(w, status, func(e *jx.Encoder) {
		encodeCoupon(e, c, now)
	})
}

// listCoupons handles GET /api/v1/coupons.
func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := coupon.Filter{
		Search:      q.str("search"),
		MinDiscount: q.decimal("min_discount"),
		MaxDiscount: q.decimal("max_discount"),
		Valid:       q.boolean("valid"),
		Page:        q.page(),
	}
	if q.err != nil {
		fail(w, r, q.err)
		return
	}

	res, err := h.coupons.List(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("coupons")
		e.ArrStart()
		for i := range res.Coupons {
			encodeCoupon(e, &res.Coupons[i], now)
		}
		e.ArrEnd()
		e.FieldStart("meta")
		encodeMeta(e, res.Meta)
		e.ObjEnd()
	})
}

// createCoupon handles POST /api/v1/coupons.
func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		params coupon.CreateParams
		seen   = map[string]bool{}
	)
	err := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			params.Code, err = decodeString(d, key)
		case "description":
			params.Description, err = decodeOptionalString(d, key)
		case "discount_percentage":
			params.DiscountPercentage, err = decodeDecimal(d, key)
		case "valid_from":
			params.ValidFrom, err = decodeTime(d, key)
		case "valid_until":
			params.ValidUntil, err = decodeTime(d, key)
		case "usage_limit":
			var null bool
			if null, err = isNull(d); null || err != nil {
				return err
			}
			var v int
			v, err = decodeInt(d, key)
			params.UsageLimit = &v
		default:
			return d.Skip()
		}
		seen[key] = true
		return err
	})
	if err == nil {
		for _, field := range []string{"code", "discount_percentage", "valid_from", "valid_until"} {
			if !seen[field] {
				err = errRequired(field)
				break
			}
		}
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	c, err := h.coupons.Create(r.Context(), params)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCoupon(w, http.StatusCreated, c)
}

// getCoupon handles GET /api/v1/coupons/{code}.
func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCoupon(w, http.StatusOK, c)
}

// getCouponByID handles GET /api/v1/coupons/id/{id}.
func (h *Handler) getCouponByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "coupon")
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.coupons.GetByID(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCoupon(w, http.StatusOK, c)
}

// updateCoupon handles PUT /api/v1/coupons/{code}. Only the fields present
// in the body are changed.
func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	var params coupon.UpdateParams
	err := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if null, err := isNull(d); null || err != nil {
			return err
		}
		switch key {
		case "code":
			v, err := decodeString(d, key)
			params.Code = &v
			return err
		case "description":
			v, err := decodeString(d, key)
			params.Description = &v
			return err
		case "discount_percentage":
			v, err := decodeDecimal(d, key)
			params.DiscountPercentage = &v
			return err
		case "valid_from":
			v, err := decodeTime(d, key)
			params.ValidFrom = &v
			return err
		case "valid_until":
			v, err := decodeTime(d, key)
			params.ValidUntil = &v
			return err
		case "usage_limit":
			v, err := decodeInt(d, key)
			params.UsageLimit = &v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "code"), params)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCoupon(w, http.StatusOK, c)
}

// deleteCoupon handles DELETE /api/v1/coupons/{code}.
func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Deactivate(r.Context(), chi.URLParam(r, "code")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateCoupon handles GET /api/v1/coupons/validate/{code}.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	v, err := h.coupons.Validate(r.Context(), code)
	if err != nil {
		fail(w, r, err)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(coupon.NormalizeCode(code))
		e.FieldStart("valid")
		e.Bool(v.Valid)
		e.FieldStart("reason")
		e.Str(string(v.Reason))
		e.FieldStart("coupon")
		if v.Coupon != nil {
			encodeCoupon(e, v.Coupon, now)
		} else {
			e.Null()
		}
		e.ObjEnd()
	})
}

// useCoupon handles POST /api/v1/coupons/use/{code}.
func (h *Handler) useCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Use(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCoupon(w, http.StatusOK, c)
}
