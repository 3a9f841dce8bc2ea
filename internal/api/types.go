package api

import (
	"time"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token and the caller's capabilities.
type LoginResponse struct {
	Token        string                `json:"token"`
	Username     string                `json:"username"`
	Role         string                `json:"role"`
	Capabilities []workflow.Capability `json:"capabilities"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

// ========== Application Types ==========

// SubmitApplicationRequest is the request body for POST /api/applications.
type SubmitApplicationRequest struct {
	workflow.ApplicantData
}

// OverrideRequest is the request body for POST /api/applications/{id}/override.
type OverrideRequest struct {
	Action          string `json:"action" validate:"required,oneof=approve reject reevaluate"`
	ReasonCode      string `json:"reason_code" validate:"required"`
	Justification   string `json:"justification" validate:"required"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

// CorrectionRequest is the request body for POST /api/applications/{id}/corrections.
type CorrectionRequest struct {
	Data            workflow.ApplicantData `json:"data" validate:"-"`
	Justification   string                 `json:"justification" validate:"required"`
	ExpectedVersion *int64                 `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

// ContestRequest is the request body for POST /api/applications/{id}/contestations.
type ContestRequest struct {
	ReasonCode         string   `json:"reason_code" validate:"required"`
	Justification      string   `json:"justification" validate:"required"`
	ProposedAdjustment *int     `json:"proposed_adjustment,omitempty"`
	Evidence           []string `json:"evidence,omitempty" validate:"omitempty,max=20,dive,max=512"`
}

// ApplicationResponse is an application with its derived read-side fields.
type ApplicationResponse struct {
	ID              string                 `json:"id"`
	SubmittedBy     string                 `json:"submitted_by"`
	Data            workflow.ApplicantData `json:"applicant_data"`
	CurrentDecision workflow.Decision      `json:"current_decision"`
	CurrentScore    float64                `json:"current_score"`
	Confidence      workflow.Confidence    `json:"confidence"`
	Ratios          workflow.Ratios        `json:"ratios"`
	Warnings        []string               `json:"warnings"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// ApplicationListItem is the compact row used by GET /api/applications.
type ApplicationListItem struct {
	ID              string              `json:"id"`
	SubmittedBy     string              `json:"submitted_by"`
	Activity        string              `json:"activity"`
	AmountAsked     float64             `json:"amount_asked"`
	CurrentDecision workflow.Decision   `json:"current_decision"`
	CurrentScore    float64             `json:"current_score"`
	Confidence      workflow.Confidence `json:"confidence"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
}

// CommandResponse is returned by every write on an application: the new
// state plus the events the write appended.
type CommandResponse struct {
	Application ApplicationResponse `json:"application"`
	Events      []workflow.Event    `json:"events"`
}

// ========== User Types ==========

// CreateUserRequest is the request body for POST /api/users.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required"`
}

// UserResponse never carries the password hash.
type UserResponse struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
