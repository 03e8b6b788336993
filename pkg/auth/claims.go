package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stitchline/storefront-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	Role   enums.AccountRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by shoppers and staff.
type AccessTokenClaims struct {
	UserID uuid.UUID         `json:"user_id"`
	Email  string            `json:"email,omitempty"`
	Role   enums.AccountRole `json:"role"`
	jwt.RegisteredClaims
}
