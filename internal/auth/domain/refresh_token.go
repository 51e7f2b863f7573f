package domain

import "time"

// RefreshToken is the persisted record of one issued refresh
// credential. Only the SHA-256 digest of the raw token is stored; the
// raw value leaves the process exactly once, at issuance.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	UserAgent string
	IP        string
	CreatedAt time.Time

	// RawToken is populated only on the value returned from issuance,
	// never on records loaded from storage.
	RawToken string
}

// ClientMetadata carries optional request attribution stored alongside
// a refresh token.
type ClientMetadata struct {
	UserAgent string
	IP        string
}
