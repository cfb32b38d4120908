package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"orbdata.io/internal/auth"
	"orbdata.io/internal/dataops"
	"orbdata.io/internal/perm"
	"orbdata.io/internal/router"
	"orbdata.io/internal/users"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	if dec.More() {
		respondError(w, http.StatusBadRequest, "bad_request", "trailing data after JSON body")
		return false
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return true
}

// respondDomainError maps domain errors onto HTTP statuses. Messages are
// fixed per class so store internals and credential material never reach
// a response body.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAuthentication):
		respondError(w, http.StatusUnauthorized, "authentication_failed", "authentication failed")

	case errors.Is(err, perm.ErrExplicitDeny):
		respondError(w, http.StatusForbidden, "access_denied", "access denied by policy")
	case errors.Is(err, perm.ErrNotAuthorized):
		respondError(w, http.StatusForbidden, "not_authorized", "not authorized for this operation")

	case errors.Is(err, users.ErrPolicyNotFound):
		respondError(w, http.StatusNotFound, "policy_not_found", "named policy does not exist")
	case errors.Is(err, dataops.ErrNotFound),
		errors.Is(err, users.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "resource not found")

	case errors.Is(err, dataops.ErrDuplicate),
		errors.Is(err, users.ErrDuplicateUser):
		respondError(w, http.StatusConflict, "duplicate", "resource already exists")

	case errors.Is(err, router.ErrUnknownOperation),
		errors.Is(err, router.ErrMissingTarget),
		errors.Is(err, router.ErrMissingDocument),
		errors.Is(err, router.ErrMissingUpdate),
		errors.Is(err, router.ErrMissingUserID),
		errors.Is(err, router.ErrSelfDelete),
		errors.Is(err, perm.ErrUnknownCategory):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())

	default:
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
