package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}

// writeRejection maps a domain.RejectionError's Kind to the HTTP status
// the engine's gateway convention uses for it; any other error is a
// 500 (§7's propagation policy treats these as SystemError already).
func writeRejection(w http.ResponseWriter, err error) {
	var rej *domain.RejectionError
	if !errors.As(err, &rej) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch rej.Kind {
	case domain.RejectionValidationFailure:
		status = http.StatusBadRequest
	case domain.RejectionPreTradeFundsShortfall:
		status = http.StatusUnprocessableEntity
	case domain.RejectionMarketDataUnavailable:
		status = http.StatusServiceUnavailable
	case domain.RejectionNotFound:
		status = http.StatusNotFound
	case domain.RejectionPermissionDenied:
		status = http.StatusForbidden
	case domain.RejectionConflictState:
		status = http.StatusConflict
	case domain.RejectionSystemError:
		status = http.StatusInternalServerError
	}
	writeError(w, status, rej.Message)
}
