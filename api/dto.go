/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines the JSON shapes that cross the wire. DTOs keep the HTTP
  contract stable and decoupled from the domain types: hours and
  ratings serialize as decimal strings, timestamps as RFC3339.

CONVENTIONS:
  - snake_case JSON field names
  - decimal quantities (balance_hours, duration_hours, rating) as strings
    to avoid float rounding on the wire
  - optional fields as pointers with omitempty

SEE ALSO:
  - handlers.go: where these are populated and parsed
*/
package api

import (
	"time"

	"github.com/timeshare/ledger-engine/gate"
	"github.com/timeshare/ledger-engine/ledger"
)

// =============================================================================
// PROFILES
// =============================================================================

// SkillDTO is one offered skill on a profile.
type SkillDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProfileDTO is the wire form of a member profile.
type ProfileDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	Avatar       string     `json:"avatar,omitempty"`
	Skills       []SkillDTO `json:"skills"`
	BalanceHours string     `json:"balance_hours"`
	Rating       string     `json:"rating"`
	ReviewCount  int        `json:"review_count"`
	IsAdmin      bool       `json:"is_admin"`
	CreatedAt    string     `json:"created_at"`
}

// UpdateProfileRequest carries partial profile edits. Absent fields are
// left untouched. Balance and the rating aggregate cannot be edited here.
type UpdateProfileRequest struct {
	Name   *string     `json:"name,omitempty"`
	Phone  *string     `json:"phone,omitempty"`
	Bio    *string     `json:"bio,omitempty"`
	Avatar *string     `json:"avatar,omitempty"`
	Skills *[]SkillDTO `json:"skills,omitempty"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// SessionDTO is the wire form of a session.
type SessionDTO struct {
	ID            string  `json:"id"`
	RequesterID   string  `json:"requester_id"`
	ProviderID    string  `json:"provider_id"`
	SkillID       string  `json:"skill_id"`
	SkillName     string  `json:"skill_name"`
	DurationHours string  `json:"duration_hours"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	ScheduledAt   *string `json:"scheduled_at,omitempty"`
	Rating        *string `json:"rating,omitempty"`
	Review        string  `json:"review,omitempty"`
}

// CreateSessionRequest books a session against a provider's skill.
type CreateSessionRequest struct {
	RequesterID   string  `json:"requester_id"`
	ProviderID    string  `json:"provider_id"`
	SkillID       string  `json:"skill_id"`
	SkillName     string  `json:"skill_name,omitempty"`
	DurationHours string  `json:"duration_hours"`
	ScheduledAt   *string `json:"scheduled_at,omitempty"`
}

// UpdateSessionStatusRequest moves a session through its lifecycle.
// Rating is required when status is "completed".
type UpdateSessionStatusRequest struct {
	ActorID string  `json:"actor_id"`
	Status  string  `json:"status"`
	Rating  *string `json:"rating,omitempty"`
	Review  string  `json:"review,omitempty"`
}

// =============================================================================
// ACCESS / INVITATIONS
// =============================================================================

// CheckAccessRequest asks whether a contact may enter.
type CheckAccessRequest struct {
	Contact string `json:"contact"`
}

// CheckAccessResponse reports membership status for a contact.
type CheckAccessResponse struct {
	Status  string      `json:"status"`
	Profile *ProfileDTO `json:"profile,omitempty"`
}

// SignUpRequest redeems a pending invitation.
type SignUpRequest struct {
	Contact string `json:"contact"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Bio     string `json:"bio,omitempty"`
}

// InvitationDTO is the wire form of an invitation.
type InvitationDTO struct {
	ID        string `json:"id"`
	Contact   string `json:"contact"`
	InvitedBy string `json:"invited_by"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// CreateInvitationRequest invites a new contact.
type CreateInvitationRequest struct {
	Contact   string `json:"contact"`
	InvitedBy string `json:"invited_by"`
}

// CancelInvitationRequest withdraws a pending invitation.
type CancelInvitationRequest struct {
	RequestedBy string `json:"requested_by"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toProfileDTO(p *ledger.Profile) ProfileDTO {
	skills := make([]SkillDTO, len(p.Skills))
	for i, sk := range p.Skills {
		skills[i] = SkillDTO{
			ID:          string(sk.ID),
			Name:        sk.Name,
			Category:    sk.Category,
			Description: sk.Description,
		}
	}
	return ProfileDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		Email:        p.Email,
		Phone:        p.Phone,
		Bio:          p.Bio,
		Avatar:       p.Avatar,
		Skills:       skills,
		BalanceHours: p.Balance.String(),
		Rating:       p.Rating.StringFixed(2),
		ReviewCount:  p.ReviewCount,
		IsAdmin:      p.IsAdmin,
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
}

func toSessionDTO(s *ledger.Session) SessionDTO {
	dto := SessionDTO{
		ID:            string(s.ID),
		RequesterID:   string(s.RequesterID),
		ProviderID:    string(s.ProviderID),
		SkillID:       string(s.SkillID),
		SkillName:     s.SkillName,
		DurationHours: s.Duration.String(),
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
		Review:        s.Review,
	}
	if s.ScheduledAt != nil {
		scheduled := s.ScheduledAt.Format(time.RFC3339)
		dto.ScheduledAt = &scheduled
	}
	if s.Rating != nil {
		rating := s.Rating.StringFixed(1)
		dto.Rating = &rating
	}
	return dto
}

func toInvitationDTO(inv *ledger.Invitation) InvitationDTO {
	return InvitationDTO{
		ID:        string(inv.ID),
		Contact:   inv.Contact,
		InvitedBy: string(inv.InvitedBy),
		Status:    string(inv.Status),
		CreatedAt: inv.CreatedAt.Format(time.RFC3339),
	}
}

func toAccessResponse(res *gate.AccessResult) CheckAccessResponse {
	resp := CheckAccessResponse{Status: string(res.Status)}
	if res.Profile != nil {
		dto := toProfileDTO(res.Profile)
		resp.Profile = &dto
	}
	return resp
}

func fromSkillDTOs(dtos []SkillDTO) []ledger.Skill {
	skills := make([]ledger.Skill, len(dtos))
	for i, d := range dtos {
		skills[i] = ledger.Skill{
			ID:          ledger.SkillID(d.ID),
			Name:        d.Name,
			Category:    d.Category,
			Description: d.Description,
		}
	}
	return skills
}
