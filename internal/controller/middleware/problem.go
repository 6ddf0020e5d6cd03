// Package middleware contains HTTP middleware for the API server.
package middleware

import (
	"encoding/json"
	"net/http"

	"uploadplane/pkg/api"
)

// WriteProblem writes an application/problem+json error body.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.Problem{
		Title:  title,
		Detail: detail,
		Status: status,
	})
}
