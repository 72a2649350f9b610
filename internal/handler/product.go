package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-discounts/internal/domain/product"
)

// couponApplied reports whether the product's discount came from a coupon.
// Products without an active discount skip the ledger lookup.
func (h *Handler) couponApplied(ctx context.Context, p *product.Product) (bool, error) {
	if !p.HasActiveDiscount {
		return false, nil
	}
	return h.discounts.CouponApplied(ctx, p.ID)
}

func (h *Handler) writeProduct(w http.ResponseWriter, r *http.Request, status int, p *product.Product) {
	applied, err := h.couponApplied(r.Context(), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		encodeProduct(e, p, applied)
	})
}

// listProducts handles GET /api/v1/products.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := product.Filter{
		Search:         q.str("search"),
		MinPrice:       q.decimal("min_price"),
		MaxPrice:       q.decimal("max_price"),
		HasDiscount:    q.boolean("has_discount"),
		OnlyOutOfStock: q.flag("only_out_of_stock"),
		Page:           q.page(),
	}
	if q.err != nil {
		fail(w, r, q.err)
		return
	}

	res, err := h.products.List(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}

	applied := make([]bool, len(res.Products))
	for i := range res.Products {
		if applied[i], err = h.couponApplied(r.Context(), &res.Products[i]); err != nil {
			fail(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("products")
		e.ArrStart()
		for i := range res.Products {
			encodeProduct(e, &res.Products[i], applied[i])
		}
		e.ArrEnd()
		e.FieldStart("meta")
		encodeMeta(e, res.Meta)
		e.ObjEnd()
	})
}

// createProduct handles POST /api/v1/products.
func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var params product.CreateParams
	var hasPrice bool
	err := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			params.Name, err = decodeString(d, key)
		case "description":
			params.Description, err = decodeOptionalString(d, key)
		case "price":
			params.Price, err = decodeDecimal(d, key)
			hasPrice = true
		case "stock":
			params.Stock, err = decodeInt(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && !hasPrice {
		err = errRequired("price")
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	p, err := h.products.Create(r.Context(), params)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeProduct(w, r, http.StatusCreated, p)
}

// getProduct handles GET /api/v1/products/{id}.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeProduct(w, r, http.StatusOK, p)
}

// updateProduct handles PATCH /api/v1/products/{id}. Absent and null fields
// are left unchanged.
func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}

	var params product.UpdateParams
	err = h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if null, err := isNull(d); null || err != nil {
			return err
		}
		switch key {
		case "name":
			v, err := decodeString(d, key)
			params.Name = &v
			return err
		case "description":
			v, err := decodeString(d, key)
			params.Description = &v
			return err
		case "price":
			v, err := decodeDecimal(d, key)
			params.Price = &v
			return err
		case "stock":
			v, err := decodeInt(d, key)
			params.Stock = &v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	p, err := h.products.Update(r.Context(), id, params)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeProduct(w, r, http.StatusOK, p)
}

// deleteProduct handles DELETE /api/v1/products/{id}.
func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.products.Delete(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
