package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/gift-orders/internal/domain/auth"
	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
	"github.com/xenking/gift-orders/internal/domain/points"
	"github.com/xenking/gift-orders/internal/domain/stock"
)

// errBadRequestBody wraps request decoding failures.
var errBadRequestBody = errors.New("malformed request body")

// mapError converts domain errors to a status code and a client-facing
// message. Unknown errors map to 500 with a generic message.
func mapError(err error) (int, string) {
	var (
		nfErr *catalog.OptionNotFoundError
		isErr *stock.InsufficientStockError
		ipErr *points.InsufficientPointsError
	)
	switch {
	case errors.Is(err, auth.ErrCredentialAbsent):
		return http.StatusBadRequest, auth.ErrCredentialAbsent.Error()
	case errors.Is(err, auth.ErrCredentialInvalid):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, member.ErrNotFound):
		// The member was removed after the credential was issued.
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errBadRequestBody):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, stock.ErrInvalidQuantity):
		return http.StatusBadRequest, stock.ErrInvalidQuantity.Error()
	case errors.Is(err, points.ErrInvalidAmount):
		// A catalog price of zero makes the charge invalid.
		return http.StatusBadRequest, points.ErrInvalidAmount.Error()
	case errors.Is(err, order.ErrInvalidPage):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &nfErr):
		return http.StatusNotFound, nfErr.Error()
	case errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound, catalog.ErrProductNotFound.Error()
	case errors.As(err, &isErr):
		return http.StatusBadRequest, isErr.Error()
	case errors.As(err, &ipErr):
		return http.StatusBadRequest, ipErr.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

// writeError writes {"code": status, "message": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()

	writeJSON(w, status, e)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
