package utils

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

// ReviewerHeader carries the identity of the administrator making a decision.
const ReviewerHeader = "X-Reviewer-ID"

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func WriteError(w http.ResponseWriter, status int, errorMsg, details string) {
	response := models.ErrorResponse{
		Error:   errorMsg,
		Message: details,
	}
	WriteJSON(w, status, response)
}

// Reviewer returns the trimmed reviewer identity of r, or "" if absent.
func Reviewer(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ReviewerHeader))
}
