package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"dispatch-core/pkg/auth"
	"dispatch-core/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	type errResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	writeJSON(w, code, errResponse{
		Error:   http.StatusText(code),
		Message: msg,
	})
}

// operationsOnly guards the admin REST surface with the same access policy
// as the /ws/admin handshake: any operations role, or the explicit
// location_tracking grant.
func operationsOnly(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetClaims(r.Context())
		if !ok {
			log.Error("admin_middleware", errors.New("could not retrieve claims from context"))
			writeError(w, http.StatusInternalServerError, "Error processing request")
			return
		}

		if !claims.CanTrackLocations() {
			log.Error("admin_middleware", fmt.Errorf("unauthorized access attempt: UserID=%s Role=%s", claims.UserID, claims.Role))
			writeError(w, http.StatusUnauthorized, "You do not have permission to access this resource")
			return
		}

		next.ServeHTTP(w, r)
	})
}
