package models

import "github.com/golang-jwt/jwt/v5"

// UserRole distinguishes the provider from booked participants.
type UserRole string

const (
	RoleProvider    UserRole = "provider"
	RoleParticipant UserRole = "participant"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Zone   string   `json:"zone,omitempty"`
	jwt.RegisteredClaims
}

// Pagination captures list paging metadata for response envelopes.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination derives paging metadata from a total row count.
func NewPagination(page, pageSize, total int) *Pagination {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalItems: total, TotalPages: pages}
}
