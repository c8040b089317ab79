package httpx

import (
	"encoding/json"
	"net/http"
)

// Wire headers carried on every error response. Mobile clients key their
// retry and re-auth behaviour off X-Error-Code alone; the message is for
// humans reading HAR dumps.
const (
	HeaderErrorCode    = "X-Error-Code"
	HeaderErrorMessage = "X-Error-Message"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a machine-readable error. The code lands in both the
// X-Error-Code header and the JSON body; 401 responses additionally carry a
// WWW-Authenticate challenge naming the scheme the client should retry with.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set(HeaderErrorCode, code)
	if message != "" {
		w.Header().Set(HeaderErrorMessage, message)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate",
			`Bearer error="`+code+`", error_description="`+message+`"`)
	}
	WriteJSON(w, status, errorBody{Error: code, Message: message})
}

// NoCache marks a response as non-cacheable. Nonce responses must never be
// served from an intermediary cache.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
