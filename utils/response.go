package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// APIResponse is the envelope every handler writes. Data is omitted when nil
// so error responses stay small.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes the envelope with the given status. Encoding failures are
// logged only; the status line has already gone out at that point.
func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[RESP] encode failed: %v", err)
	}
}

// GetStringValue returns the value of a nullable string pointer or empty string if nil
func GetStringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
