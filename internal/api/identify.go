package api

import (
	"fmt"
	"net/http"
)

// IdentifyFromHeader builds an Identify function for deployments without a
// login flow (local development, trusted-header deployments behind a
// gateway that already authenticated the caller).
func IdentifyFromHeader(header string) func(r *http.Request) (string, error) {
	if header == "" {
		header = "X-User-Id"
	}
	return func(r *http.Request) (string, error) {
		v := r.Header.Get(header)
		if v == "" {
			return "", fmt.Errorf("missing %s header", header)
		}
		return v, nil
	}
}
