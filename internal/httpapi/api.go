// Package httpapi is the HTTP transport: token issuance, the operation
// endpoint, user-management routes, and the service probes.
package httpapi

import (
	"context"
	"net/http"

	"orbdata.io/internal/audit"
	"orbdata.io/internal/auth"
	"orbdata.io/internal/obs"
	"orbdata.io/internal/router"
)

// ReadyCheck reports whether a backing store is reachable.
type ReadyCheck func(ctx context.Context) error

// UsageRecorder persists one usage entry per authenticated request.
type UsageRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Options carries the API's collaborators and tunables.
type Options struct {
	Auth    *auth.Service
	Router  *router.Router
	Usage   UsageRecorder
	Ready   []ReadyCheck
	Version string

	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	auth    *auth.Service
	rt      *router.Router
	usage   UsageRecorder
	ready   []ReadyCheck
	version string
	opts    Options
}

// New builds the route table.
func New(opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:     http.NewServeMux(),
		auth:    opts.Auth,
		rt:      opts.Router,
		usage:   opts.Usage,
		ready:   opts.Ready,
		version: opts.Version,
		opts:    opts,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.Token)
	a.mux.HandleFunc("GET /v1/users/me", a.Me)

	a.mux.HandleFunc("POST /v1/users", a.CreateUser)
	a.mux.HandleFunc("PUT /v1/users/{id}", a.UpdateUser)
	a.mux.HandleFunc("DELETE /v1/users/{id}", a.DeleteUser)

	a.mux.HandleFunc("POST /v1/data/{op}", a.DataOp)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "no such route")
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = SecurityHeaders(h)
	h = a.Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "orb-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	for _, check := range a.ready {
		if err := check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

// Token exchanges a user id and API key for a signed access token.
func (a *API) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, exp, err := a.auth.Authenticate(r.Context(), req.UserID, req.APIKey)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   exp.UTC(),
	})
}

// Me echoes the verified claims of the presented token.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication_failed", "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     claims.UserID,
		"role":        claims.Role,
		"metadata":    claims.Metadata,
		"permissions": claims.Permissions,
		"expires_at":  claims.ExpiresAt,
	})
}

// DataOp runs a named document operation through the router.
func (a *API) DataOp(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication_failed", "authentication required")
		return
	}
	var req router.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := a.rt.Route(r.Context(), *claims, r.PathValue("op"), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateUser is the REST form of the create_user operation.
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication_failed", "authentication required")
		return
	}
	var params router.UserParams
	if !decodeJSON(w, r, &params) {
		return
	}

	res, err := a.rt.Route(r.Context(), *claims, "create_user", router.Request{User: params})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// UpdateUser is the REST form of the update_user operation.
func (a *API) UpdateUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication_failed", "authentication required")
		return
	}
	var params router.UserParams
	if !decodeJSON(w, r, &params) {
		return
	}
	params.UserID = r.PathValue("id")

	res, err := a.rt.Route(r.Context(), *claims, "update_user", router.Request{User: params})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteUser is the REST form of the delete_user operation.
func (a *API) DeleteUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication_failed", "authentication required")
		return
	}

	req := router.Request{User: router.UserParams{UserID: r.PathValue("id")}}
	res, err := a.rt.Route(r.Context(), *claims, "delete_user", req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
