//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := doGet(t, path)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}

			body := decodeJSON[healthResponse](t, resp)
			if body.Status != "ok" {
				t.Fatalf("expected status ok, got %q %v", body.Status, body.Checks)
			}
			for name, status := range body.Checks {
				if status != "ok" {
					t.Errorf("check %s: %s", name, status)
				}
			}
		})
	}
}

func TestReadyz_CoversDependencies(t *testing.T) {
	resp := doGet(t, "/readyz")
	defer resp.Body.Close()

	body := decodeJSON[healthResponse](t, resp)
	for _, name := range []string{"postgres", "redis"} {
		if _, ok := body.Checks[name]; !ok {
			t.Errorf("readiness does not report %s: %v", name, body.Checks)
		}
	}
}
