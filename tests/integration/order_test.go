//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

// Seeded catalog, see db/seed/seed.json.
const (
	productMug     = 1
	productCandle  = 2
	productVoucher = 3
	productGiftBox = 4
)

func optionQuantity(t *testing.T, productID int64, name string) int {
	t.Helper()

	resp := doGet(t, fmt.Sprintf("/products/%d/options", productID))
	defer resp.Body.Close()
	for _, o := range decodeJSON[[]optionResponse](t, resp) {
		if o.Name == name {
			return o.Quantity
		}
	}
	t.Fatalf("option %q of product %d not found", name, productID)
	return 0
}

func expectError(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	defer resp.Body.Close()

	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != status {
		t.Errorf("error code: got %d, want %d", body.Code, status)
	}
	if body.Message == "" {
		t.Error("error message is empty")
	}
}

func TestPlaceOrder_NoAuth(t *testing.T) {
	id := optionID(t, productMug, "White")
	expectError(t, placeOrder(t, "", orderRequest{OptionID: id, Quantity: 1}, nil), http.StatusBadRequest)
}

func TestPlaceOrder_InvalidToken(t *testing.T) {
	id := optionID(t, productMug, "White")
	expectError(t, placeOrder(t, "Bearer not-a-jwt", orderRequest{OptionID: id, Quantity: 1}, nil), http.StatusUnauthorized)
}

func TestPlaceOrder_UnknownMember(t *testing.T) {
	id := optionID(t, productMug, "White")
	resp := placeOrder(t, tokenFor(t, "nobody@example.com"), orderRequest{OptionID: id, Quantity: 1}, nil)
	expectError(t, resp, http.StatusUnauthorized)
}

func TestPlaceOrder_UnknownOption(t *testing.T) {
	resp := placeOrder(t, tokenFor(t, "alice@example.com"), orderRequest{OptionID: 999999, Quantity: 1}, nil)
	expectError(t, resp, http.StatusNotFound)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	id := optionID(t, productMug, "White")
	resp := placeOrder(t, tokenFor(t, "alice@example.com"), orderRequest{OptionID: id, Quantity: 0}, nil)
	expectError(t, resp, http.StatusBadRequest)
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", tokenFor(t, "alice@example.com"))
	resp := doRequest(t, http.MethodPost, "/orders", map[string]any{"optionId": "one"}, h)
	expectError(t, resp, http.StatusBadRequest)
}

func TestPlaceOrder_InsufficientPoints(t *testing.T) {
	id := optionID(t, productCandle, "Cedarwood")
	before := optionQuantity(t, productCandle, "Cedarwood")

	resp := placeOrder(t, tokenFor(t, "carol@example.com"), orderRequest{OptionID: id, Quantity: 1}, nil)
	expectError(t, resp, http.StatusBadRequest)

	if after := optionQuantity(t, productCandle, "Cedarwood"); after != before {
		t.Errorf("stock changed on rejected order: %d -> %d", before, after)
	}
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	id := optionID(t, productGiftBox, "Large")
	before := optionQuantity(t, productGiftBox, "Large")

	resp := placeOrder(t, tokenFor(t, "alice@example.com"), orderRequest{OptionID: id, Quantity: before + 1}, nil)
	expectError(t, resp, http.StatusBadRequest)

	if after := optionQuantity(t, productGiftBox, "Large"); after != before {
		t.Errorf("stock changed on rejected order: %d -> %d", before, after)
	}
}

func TestPlaceOrder_Created(t *testing.T) {
	id := optionID(t, productMug, "White")
	before := optionQuantity(t, productMug, "White")

	resp := placeOrder(t, tokenFor(t, "alice@example.com"),
		orderRequest{OptionID: id, Quantity: 2, Message: "Happy birthday!"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	placed := decodeJSON[orderResponse](t, resp)
	if placed.Charged != 3600 {
		t.Errorf("charged: got %d, want 3600", placed.Charged)
	}
	if placed.Message != "Happy birthday!" {
		t.Errorf("message: got %q", placed.Message)
	}
	if _, err := time.Parse(time.RFC3339, placed.OrderDateTime); err != nil {
		t.Errorf("orderDateTime %q: %v", placed.OrderDateTime, err)
	}

	if after := optionQuantity(t, productMug, "White"); after != before-2 {
		t.Errorf("stock: got %d, want %d", after, before-2)
	}

	list := doRequest(t, http.MethodGet, "/orders?page=0&size=10", nil,
		http.Header{"Authorization": {tokenFor(t, "alice@example.com")}})
	defer list.Body.Close()
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", list.StatusCode)
	}
	orders := decodeJSON[orderListResponse](t, list)
	if len(orders.Orders) == 0 || orders.Orders[0].ID != placed.ID {
		t.Errorf("latest order not listed first: %+v", orders.Orders)
	}
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	id := optionID(t, productCandle, "Lavender")
	before := optionQuantity(t, productCandle, "Lavender")

	key := http.Header{"Idempotency-Key": {fmt.Sprintf("gift-%d", time.Now().UnixNano())}}
	auth := tokenFor(t, "alice@example.com")

	first := placeOrder(t, auth, orderRequest{OptionID: id, Quantity: 1}, key)
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first attempt: expected 201, got %d", first.StatusCode)
	}

	expectError(t, placeOrder(t, auth, orderRequest{OptionID: id, Quantity: 1}, key), http.StatusConflict)

	if after := optionQuantity(t, productCandle, "Lavender"); after != before-1 {
		t.Errorf("stock: got %d, want %d", after, before-1)
	}
}

func TestPlaceOrder_ConcurrentPoints(t *testing.T) {
	// bob holds 20000 points; a voucher costs 5000.
	id := optionID(t, productVoucher, "Single")
	auth := tokenFor(t, "bob@example.com")

	const attempts = 8
	statuses := make([]int, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := placeOrder(t, auth, orderRequest{OptionID: id, Quantity: 1}, nil)
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	var created, rejected int
	for _, s := range statuses {
		switch s {
		case http.StatusCreated:
			created++
		case http.StatusBadRequest:
			rejected++
		default:
			t.Errorf("unexpected status %d", s)
		}
	}
	if created != 4 || rejected != attempts-4 {
		t.Fatalf("created %d, rejected %d; want 4 and %d", created, rejected, attempts-4)
	}

	h := http.Header{"Authorization": {auth}}
	resp := doRequest(t, http.MethodGet, "/orders?page=1&size=3", nil, h)
	defer resp.Body.Close()
	list := decodeJSON[orderListResponse](t, resp)
	if list.Total != 4 {
		t.Errorf("total: got %d, want 4", list.Total)
	}
	if len(list.Orders) != 1 {
		t.Errorf("second page: got %d orders, want 1", len(list.Orders))
	}
	for _, o := range list.Orders {
		if o.Charged != 5000 {
			t.Errorf("charged: got %d, want 5000", o.Charged)
		}
	}
}

func TestListOrders_Isolation(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/orders", nil,
		http.Header{"Authorization": {tokenFor(t, "carol@example.com")}})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	list := decodeJSON[orderListResponse](t, resp)
	if list.Total != 0 || len(list.Orders) != 0 {
		t.Errorf("carol sees orders: %+v", list)
	}
}

func TestListOrders_InvalidPage(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/orders?page=-1", nil,
		http.Header{"Authorization": {tokenFor(t, "alice@example.com")}})
	expectError(t, resp, http.StatusBadRequest)
}
