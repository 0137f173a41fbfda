package api

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr writes a classified error using its code and message. Anything
// unclassified is a 500 with a generic message.
func respondErr(w http.ResponseWriter, err error) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		respondError(w, rich.Code, rich.Message)
		return
	}
	respondError(w, http.StatusInternalServerError, "Internal server error")
}
