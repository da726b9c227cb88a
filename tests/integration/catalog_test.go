//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/products")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != 4 {
		t.Fatalf("expected 4 products, got %d", len(products))
	}
	for i, p := range products {
		if p.ID != int64(i+1) {
			t.Errorf("product %d: id %d, want ordered by id", i, p.ID)
		}
		if p.Price <= 0 {
			t.Errorf("product %d: price %d", p.ID, p.Price)
		}
	}
}

func TestListOptions(t *testing.T) {
	resp := doGet(t, "/products/4/options")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	opts := decodeJSON[[]optionResponse](t, resp)
	if len(opts) != 2 {
		t.Fatalf("expected 2 options, got %d", len(opts))
	}
	for _, o := range opts {
		if o.Product.ID != 4 || o.Product.Price != 12000 {
			t.Errorf("option %d: product %+v", o.ID, o.Product)
		}
	}
}

func TestListOptions_UnknownProduct(t *testing.T) {
	for _, path := range []string{"/products/999/options", "/products/abc/options"} {
		resp := doGet(t, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	resp := doGet(t, "/nope")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("code: got %d", body.Code)
	}
}
