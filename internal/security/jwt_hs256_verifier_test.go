package security_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/activity-aggregator/internal/security"
)

func signHS256(t *testing.T, secret []byte, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "activity-aggregator",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestHS256Verifier_ValidToken(t *testing.T) {
	secret := []byte("supersecret")
	v := security.NewHS256Verifier(string(secret))

	token := signHS256(t, secret, "dashboard-client", time.Now().Add(time.Hour))
	claims, err := v.VerifyAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "dashboard-client", claims.Subject)
	require.Equal(t, "activity-aggregator", claims.Issuer)
}

func TestHS256Verifier_ExpiredToken(t *testing.T) {
	secret := []byte("supersecret")
	v := security.NewHS256Verifier(string(secret))

	token := signHS256(t, secret, "dashboard-client", time.Now().Add(-time.Minute))
	_, err := v.VerifyAccessToken(token)
	require.ErrorIs(t, err, security.ErrTokenExpired)
}

func TestHS256Verifier_WrongSignature(t *testing.T) {
	v := security.NewHS256Verifier("supersecret")

	token := signHS256(t, []byte("othersecret"), "dashboard-client", time.Now().Add(time.Hour))
	_, err := v.VerifyAccessToken(token)
	require.ErrorIs(t, err, security.ErrTokenInvalid)
}

func TestHS256Verifier_MalformedToken(t *testing.T) {
	v := security.NewHS256Verifier("supersecret")
	_, err := v.VerifyAccessToken("not.a.jwt")
	require.ErrorIs(t, err, security.ErrTokenInvalid)
}

func TestHS256Verifier_WrongAlgorithm(t *testing.T) {
	secret := []byte("supersecret")
	v := security.NewHS256Verifier(string(secret))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "dashboard-client",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString(secret)
	require.NoError(t, err)

	_, err = v.VerifyAccessToken(s)
	require.ErrorIs(t, err, security.ErrTokenInvalid)
}
