/*
handlers.go - HTTP API handlers for the time-exchange ledger

PURPOSE:
  Exposes the ledger engine and invitation gate via REST API. Handles
  HTTP request/response, JSON serialization, and delegates all domain
  decisions to the engine and gate.

ENDPOINTS:
  Access:
    POST   /api/access/check            Resolve contact: existing/invited/denied
    POST   /api/access/signup           Redeem invitation, create profile

  Profiles:
    GET    /api/profiles                List all member profiles
    GET    /api/profiles/{id}           Get one profile
    PUT    /api/profiles/{id}           Partial profile edit (never balance/rating)

  Sessions:
    GET    /api/sessions                List sessions (participant/status filters)
    POST   /api/sessions                Request a session (debits the requester)
    GET    /api/sessions/{id}           Get one session
    POST   /api/sessions/{id}/status    Accept / complete / cancel

  Invitations:
    GET    /api/invitations             List invitations (inviter/status filters)
    POST   /api/invitations             Invite a contact
    POST   /api/invitations/{id}/cancel Withdraw a pending invitation

ERROR HANDLING:
  Domain errors map to HTTP status via httpStatusFor:
  - 400: validation errors, insufficient balance
  - 403: access denied (not invited, wrong actor on invitations)
  - 404: profile/session/invitation not found
  - 409: invalid state transition, lost concurrent update
  - 503: store unavailable
  - 500: everything else

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/timeshare/ledger-engine/gate"
	"github.com/timeshare/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Gate   *gate.Gate
	Log    *logrus.Logger
}

// NewHandler creates a handler over the engine and gate.
func NewHandler(engine *ledger.Engine, g *gate.Gate, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{Engine: engine, Gate: g, Log: log}
}

// =============================================================================
// ACCESS HANDLERS
// =============================================================================

// CheckAccess resolves what a contact may do.
// POST /api/access/check
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req CheckAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Gate.CheckAccess(r.Context(), req.Contact)
	if err != nil {
		h.writeDomainError(w, "check access", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccessResponse(result))
}

// SignUp redeems a pending invitation and creates a member profile.
// POST /api/access/signup
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	profile, err := h.Gate.SignUp(r.Context(), req.Contact, gate.SignUpInput{
		Name:  req.Name,
		Phone: req.Phone,
		Bio:   req.Bio,
	})
	if err != nil {
		h.writeDomainError(w, "sign up", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"profile_id": profile.ID,
		"balance":    profile.Balance.String(),
	}).Info("member signed up")

	writeJSON(w, http.StatusCreated, toProfileDTO(profile))
}

// =============================================================================
// PROFILE HANDLERS
// =============================================================================

// ListProfiles returns all member profiles.
// GET /api/profiles
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Engine.ListProfiles(r.Context())
	if err != nil {
		h.writeDomainError(w, "list profiles", err)
		return
	}

	dtos := make([]ProfileDTO, len(profiles))
	for i := range profiles {
		dtos[i] = toProfileDTO(&profiles[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProfile returns a single member profile.
// GET /api/profiles/{id}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProfileID(chi.URLParam(r, "id"))

	profile, err := h.Engine.GetProfile(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(profile))
}

// UpdateProfile applies a partial edit to a profile. Balance, rating,
// and review count are not editable through this endpoint.
// PUT /api/profiles/{id}
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProfileID(chi.URLParam(r, "id"))

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	update := ledger.ProfileUpdate{
		Name:   req.Name,
		Phone:  req.Phone,
		Bio:    req.Bio,
		Avatar: req.Avatar,
	}
	if req.Skills != nil {
		skills := fromSkillDTOs(*req.Skills)
		update.Skills = &skills
	}

	profile, err := h.Engine.UpdateProfile(r.Context(), id, update)
	if err != nil {
		h.writeDomainError(w, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(profile))
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// ListSessions returns sessions, optionally filtered by participant
// and/or status query parameters.
// GET /api/sessions?participant=usr-1&status=pending
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	var filter ledger.SessionFilter
	if p := r.URL.Query().Get("participant"); p != "" {
		id := ledger.ProfileID(p)
		filter.Participant = &id
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := ledger.SessionStatus(strings.ToUpper(s))
		filter.Status = &status
	}

	sessions, err := h.Engine.ListSessions(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i := range sessions {
		dtos[i] = toSessionDTO(&sessions[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSession returns a single session.
// GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := ledger.SessionID(chi.URLParam(r, "id"))

	session, err := h.Engine.GetSession(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// CreateSession books a session and debits the requester's balance.
// POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	duration, err := decimal.NewFromString(req.DurationHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid duration_hours", err)
		return
	}

	input := ledger.RequestSessionInput{
		RequesterID: ledger.ProfileID(req.RequesterID),
		ProviderID:  ledger.ProfileID(req.ProviderID),
		SkillID:     ledger.SkillID(req.SkillID),
		SkillName:   req.SkillName,
		Duration:    ledger.Hours{Value: duration},
	}
	if req.ScheduledAt != nil {
		scheduled, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid scheduled_at, want RFC3339", err)
			return
		}
		input.ScheduledAt = &scheduled
	}

	session, err := h.Engine.RequestSession(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, "create session", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"requester":  session.RequesterID,
		"provider":   session.ProviderID,
		"duration":   session.Duration.String(),
	}).Info("session requested")

	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// UpdateSessionStatus moves a session through its lifecycle on behalf
// of an actor. Completing requires a rating.
// POST /api/sessions/{id}/status
func (h *Handler) UpdateSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := ledger.SessionID(chi.URLParam(r, "id"))

	var req UpdateSessionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var rating *decimal.Decimal
	if req.Rating != nil {
		parsed, err := decimal.NewFromString(*req.Rating)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid rating", err)
			return
		}
		rating = &parsed
	}

	session, err := h.Engine.UpdateSessionStatus(r.Context(), id,
		ledger.ProfileID(req.ActorID), ledger.SessionStatus(strings.ToUpper(req.Status)), rating, req.Review)
	if err != nil {
		// A failed settlement after a successful transition is not a
		// client error: the sweep finishes it. Report the session.
		if session != nil {
			h.Log.WithError(err).WithField("session_id", id).
				Warn("session transitioned but settlement deferred to sweep")
			writeJSON(w, http.StatusOK, toSessionDTO(session))
			return
		}
		h.writeDomainError(w, "update session status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// =============================================================================
// INVITATION HANDLERS
// =============================================================================

// ListInvitations returns invitations, optionally filtered.
// GET /api/invitations?invited_by=usr-1&status=pending
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	var filter ledger.InvitationFilter
	if p := r.URL.Query().Get("invited_by"); p != "" {
		id := ledger.ProfileID(p)
		filter.InvitedBy = &id
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := ledger.InvitationStatus(s)
		filter.Status = &status
	}

	invitations, err := h.Engine.ListInvitations(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "list invitations", err)
		return
	}

	dtos := make([]InvitationDTO, len(invitations))
	for i := range invitations {
		dtos[i] = toInvitationDTO(&invitations[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvitation invites a new contact into the network.
// POST /api/invitations
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req CreateInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.Gate.Invite(r.Context(), ledger.ProfileID(req.InvitedBy), req.Contact)
	if err != nil {
		h.writeDomainError(w, "create invitation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvitationDTO(inv))
}

// CancelInvitation withdraws a pending invitation. Only the inviter or
// an admin may cancel.
// POST /api/invitations/{id}/cancel
func (h *Handler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvitationID(chi.URLParam(r, "id"))

	var req CancelInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	requester := ledger.ProfileID(req.RequestedBy)
	profile, err := h.Engine.GetProfile(r.Context(), requester)
	if err != nil {
		h.writeDomainError(w, "cancel invitation", err)
		return
	}

	if err := h.Gate.CancelInvite(r.Context(), id, requester, profile.IsAdmin); err != nil {
		h.writeDomainError(w, "cancel invitation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto an HTTP status and logs
// server-side failures.
func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	status := httpStatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.WithError(err).Error(op + " failed")
	}
	writeError(w, status, op+" failed", err)
}

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrDenied):
		return http.StatusForbidden
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, ledger.ErrDuplicateRecord):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
