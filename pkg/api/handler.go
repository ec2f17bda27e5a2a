package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/viralboard/membersync/pkg/membersync"
	"github.com/viralboard/membersync/pkg/roster"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxUserIDLen     = 255
)

type contextKey string

const userIDKey contextKey = "membersync:uid"

// Handler serves the membership administration and self-service endpoints:
//
//	POST   /admin/roster                 upload an export (multipart "file" or raw body)
//	GET    /admin/roster                 whitelist summary
//	DELETE /admin/roster                 reset the whitelist
//	PATCH  /admin/accounts/{uid}         override role or plan
//	POST   /admin/accounts/{uid}/extend  grant extra days
//	GET    /admin/accounts/{uid}/audit   audit trail, newest first
//	POST   /me/external-id               link a channel ID and reconcile
//	POST   /me/sync                      reconcile now
//	GET    /me/entitlement               current entitlement and usage
type Handler struct {
	config Config
	router chi.Router
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetSessionID == nil {
		config.GetSessionID = FromHeader("X-Session-ID")
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaultMaxUploadBytes
	}
	if config.Logger == nil {
		config.Logger = &membersync.NoopLogger{}
	}

	h := &Handler{config: config}
	h.router = h.routes()
	return h, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/me", func(r chi.Router) {
		r.Use(h.requireUser)
		r.Post("/external-id", h.ClaimExternalID)
		r.Post("/sync", h.Sync)
		r.Get("/entitlement", h.GetEntitlement)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireUser, h.requireAdmin)
		r.Post("/roster", h.UploadRoster)
		r.Get("/roster", h.GetRoster)
		r.Delete("/roster", h.ResetRoster)
		r.Patch("/accounts/{uid}", h.UpdateAccount)
		r.Post("/accounts/{uid}/extend", h.ExtendAccount)
		r.Get("/accounts/{uid}/audit", h.GetAudit)
	})

	return r
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := h.config.GetUserID(r)
		if uid == "" {
			h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
			return
		}
		if len(uid) > maxUserIDLen {
			h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.config.IsAdmin(r) {
			h.handleError(w, r, fmt.Errorf("admin role required"), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userIDKey).(string)
	return uid
}

// ClaimExternalID links the caller's channel ID and reconciles immediately
func (h *Handler) ClaimExternalID(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	uid := userID(r)
	res, err := h.config.Manager.ClaimExternalID(r.Context(), uid, req.ExternalID, h.config.GetSessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.alignLedger(r.Context(), uid)
	writeJSON(w, http.StatusOK, syncResponse(res))
}

// Sync reconciles the caller's account against the whitelist
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	res, err := h.config.Manager.Reconcile(r.Context(), membersync.ReconcileRequest{
		UID:       uid,
		SessionID: h.config.GetSessionID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.alignLedger(r.Context(), uid)
	writeJSON(w, http.StatusOK, syncResponse(res))
}

// GetEntitlement returns the caller's entitlement status and, if tracked, API usage
func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	st, err := h.config.Manager.Status(r.Context(), uid, time.Time{})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := EntitlementResponse{EntitlementStatus: st}
	if h.config.Ledgers != nil {
		l := h.config.Ledgers.Get(uid)
		l.SetLimit(st.UsageLimit)
		usage := l.Usage()
		resp.Usage = &usage
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadRoster replaces the whitelist with an uploaded export
func (h *Handler) UploadRoster(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	raw, fileName, err := h.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleError(w, r, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	if len(raw) == 0 {
		h.handleError(w, r, fmt.Errorf("empty upload"), http.StatusBadRequest)
		return
	}

	res, err := h.config.Manager.UploadRoster(r.Context(), membersync.UploadRequest{
		Raw:        raw,
		FileName:   fileName,
		UploadedBy: userID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) readUpload(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // Empty type means raw body
	if mediaType != "multipart/form-data" {
		raw, err := io.ReadAll(r.Body)
		return raw, r.URL.Query().Get("filename"), err
	}

	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("missing file field: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	return raw, header.Filename, err
}

// GetRoster returns a summary of the current whitelist
func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	info, err := h.config.Manager.Whitelist(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ResetRoster deletes the whitelist
func (h *Handler) ResetRoster(w http.ResponseWriter, r *http.Request) {
	if err := h.config.Manager.ResetWhitelist(r.Context(), userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateAccount applies an administrative role or plan override
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountChangeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Role == nil && req.Plan == nil {
		h.handleError(w, r, fmt.Errorf("role or plan is required"), http.StatusBadRequest)
		return
	}

	acc, err := h.config.Manager.AdminUpdate(r.Context(), userID(r), chi.URLParam(r, "uid"),
		membersync.AdminChange{Role: req.Role, Plan: req.Plan})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ExtendAccount grants extra days to an account
func (h *Handler) ExtendAccount(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	acc, err := h.config.Manager.ExtendExpiry(r.Context(), userID(r), chi.URLParam(r, "uid"), req.Days, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GetAudit returns an account's audit trail, newest first
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.handleError(w, r, fmt.Errorf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	uid := chi.URLParam(r, "uid")
	entries, err := h.config.Manager.AuditTrail(r.Context(), uid, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*membersync.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, AuditResponse{UID: uid, Entries: entries})
}

// alignLedger sets the caller's daily budget from the plan after a sync.
func (h *Handler) alignLedger(ctx context.Context, uid string) {
	if h.config.Ledgers == nil {
		return
	}
	st, err := h.config.Manager.Status(ctx, uid, time.Time{})
	if err != nil {
		h.config.Logger.Warn("failed to align usage limit", membersync.Field{Key: "uid", Value: uid}, membersync.Field{Key: "error", Value: err})
		return
	}
	h.config.Ledgers.Get(uid).SetLimit(st.UsageLimit)
}

func syncResponse(res *membersync.ReconcileResult) SyncResponse {
	resp := SyncResponse{
		Outcome:      res.Outcome,
		Account:      res.Account,
		Notification: res.Notification,
	}
	if res.Decision != nil {
		resp.Rule = res.Decision.Rule
	}
	return resp
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps manager errors to HTTP status codes
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var parseErr *roster.ParseError
	switch {
	case errors.As(err, &parseErr):
		if h.config.OnError != nil {
			h.config.OnError(w, r, err)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: parseErr.Err.Error(), Preview: parseErr.Preview})
	case errors.Is(err, membersync.ErrInvalidExternalID), errors.Is(err, membersync.ErrInvalidChange):
		h.handleError(w, r, err, http.StatusBadRequest)
	case errors.Is(err, membersync.ErrDuplicateClaim):
		h.handleError(w, r, err, http.StatusConflict)
	case errors.Is(err, membersync.ErrAccountNotFound), errors.Is(err, membersync.ErrWhitelistNotFound):
		h.handleError(w, r, err, http.StatusNotFound)
	default:
		h.config.Logger.Error("request failed",
			membersync.Field{Key: "path", Value: r.URL.Path},
			membersync.Field{Key: "error", Value: err},
		)
		h.handleError(w, r, errors.New(strings.ToLower(http.StatusText(http.StatusInternalServerError))), http.StatusInternalServerError)
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}
