package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/gift-orders/internal/domain/order"
)

type placeOrderBody struct {
	OptionID int64
	Quantity int
	Message  string
}

// decodePlaceOrder parses {"optionId", "quantity", "message"}. optionId is
// required; a missing quantity decodes as zero and is rejected downstream.
func decodePlaceOrder(r io.Reader) (placeOrderBody, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return placeOrderBody{}, errors.Wrap(errBadRequestBody, err.Error())
	}

	var (
		body      placeOrderBody
		hasOption bool
	)
	d := jx.DecodeBytes(raw)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "optionId":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "optionId")
			}
			body.OptionID, hasOption = v, true
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "quantity")
			}
			body.Quantity = v
		case "message":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "message")
			}
			body.Message = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return placeOrderBody{}, errors.Wrap(errBadRequestBody, err.Error())
	}
	if !hasOption {
		return placeOrderBody{}, errors.Wrap(errBadRequestBody, "optionId is required")
	}
	return body, nil
}

// PlaceOrder handles POST /orders for the authenticated member.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	m, ok := MemberFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := decodePlaceOrder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	placed, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		MemberID: m.ID,
		OptionID: body.OptionID,
		Quantity: body.Quantity,
		Message:  body.Message,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrder(e, *placed)
	writeJSON(w, http.StatusCreated, e)
}

// ListOrders handles GET /orders?page=&size= for the authenticated member.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	m, ok := MemberFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	number, err := queryInt(r, "page")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	page, err := order.NewPage(number, size)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	list, err := h.orders.ListOrders(r.Context(), m.ID, page)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for _, o := range list.Orders {
		encodeOrder(e, o)
	}
	e.ArrEnd()
	e.FieldStart("page")
	e.Int(list.Page.Number)
	e.FieldStart("size")
	e.Int(list.Page.Size)
	e.FieldStart("total")
	e.Int(list.Total)
	e.ObjEnd()

	writeJSON(w, http.StatusOK, e)
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("optionId")
	e.Int64(o.OptionID)
	e.FieldStart("quantity")
	e.Int(o.Quantity)
	e.FieldStart("message")
	e.Str(o.Message)
	e.FieldStart("charged")
	e.Int64(o.Charged.IntPart())
	e.FieldStart("orderDateTime")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

// queryInt parses an optional integer query parameter; absent means zero.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(order.ErrInvalidPage, "%s: %q", name, raw)
	}
	return v, nil
}
