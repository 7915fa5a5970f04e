package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimsFor(exp time.Time) Claims {
	return Claims{Sub: "0xabc", WalletType: "slush", JTI: "jti-1", Exp: exp.Unix()}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, claimsFor(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	claims, err := ParseToken(secret, issued)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", claims.Sub)
	assert.Equal(t, "slush", claims.WalletType)
	assert.Equal(t, "jti-1", claims.JTI)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, claimsFor(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	_, err = ParseToken(secret, issued)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseTokenExpiresExactlyAtExp(t *testing.T) {
	secret := []byte("secret")
	exp := time.Unix(1_700_000_000, 0)
	issued, err := IssueToken(secret, claimsFor(exp))
	require.NoError(t, err)

	_, err = parseTokenAt(secret, issued, exp.Add(-time.Second))
	assert.NoError(t, err)
	_, err = parseTokenAt(secret, issued, exp)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, claimsFor(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	_, err = ParseToken([]byte("other"), issued)
	assert.ErrorIs(t, err, ErrInvalidToken)

	parts := strings.Split(issued, ".")
	require.Len(t, parts, 3)
	for _, token := range []string{
		"",
		parts[0] + "." + parts[1],
		issued + ".extra",
		parts[0] + ".x" + parts[1] + "." + parts[2],
	} {
		_, err := ParseToken(secret, token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestParseTokenRejectsOtherAlgorithmsAndIssuers(t *testing.T) {
	secret := []byte("secret")
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	registered := jwt.RegisteredClaims{Issuer: issuer, Subject: "0xabc", ID: "jti-1", ExpiresAt: exp}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, walletClaims{RegisteredClaims: registered}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, walletClaims{RegisteredClaims: registered}).SignedString(secret)
	require.NoError(t, err)
	foreign := registered
	foreign.Issuer = "someone-else"
	otherIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, walletClaims{RegisteredClaims: foreign}).SignedString(secret)
	require.NoError(t, err)

	for name, token := range map[string]string{"none": unsigned, "hs512": hs512, "issuer": otherIssuer} {
		_, err := ParseToken(secret, token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestParseTokenRequiresSubject(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = ParseToken(secret, issued)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken(nil, claimsFor(time.Now().Add(time.Hour)))
	assert.Error(t, err)
}

func TestHashTokenIsStableHex(t *testing.T) {
	assert.Equal(t, HashToken("a"), HashToken("a"))
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
	assert.Len(t, HashToken("a"), 64)
}
