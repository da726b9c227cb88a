package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/gift-orders/internal/domain/catalog"
)

// ListProducts handles GET /products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ArrStart()
	for _, p := range products {
		encodeProduct(e, p)
	}
	e.ArrEnd()

	writeJSON(w, http.StatusOK, e)
}

// ListOptions handles GET /products/{productId}/options.
func (h *Handler) ListOptions(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, catalog.ErrProductNotFound.Error())
		return
	}

	opts, err := h.catalog.ListOptions(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ArrStart()
	for _, o := range opts {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(o.ID)
		e.FieldStart("name")
		e.Str(o.Name)
		e.FieldStart("quantity")
		e.Int(o.Quantity)
		e.FieldStart("product")
		encodeProduct(e, o.Product)
		e.ObjEnd()
	}
	e.ArrEnd()

	writeJSON(w, http.StatusOK, e)
}

func encodeProduct(e *jx.Encoder, p catalog.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Int64(p.Price.IntPart())
	e.ObjEnd()
}
