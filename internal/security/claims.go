package security

import "time"

// TokenClaims is the subset of a verified bearer token this service cares
// about: who is calling, and when the token stops being valid.
type TokenClaims struct {
	Subject string
	Issuer  string
	Exp     time.Time
}
