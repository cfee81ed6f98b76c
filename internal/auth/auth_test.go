package auth

import (
	"encoding/hex"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
)

const secret = "0123456789abcdef0123"

func newWallet(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)), 1)
	require.NoError(t, err)
	return s
}

func TestLogin_WalletSignature(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)
	wallet := newWallet(t)

	challenge, err := svc.Challenge(wallet.Address())
	require.NoError(t, err)
	sig, err := wallet.SignText(challenge)
	require.NoError(t, err)

	tok, err := svc.Login(wallet.Address(), challenge, sig)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address(), tok.Identity)

	claims, err := svc.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address(), claims.Subject)
	assert.False(t, claims.Admin)
}

func TestLogin_Rejects(t *testing.T) {
	svc := NewService(secret, time.Hour, time.Minute)
	wallet, other := newWallet(t), newWallet(t)

	challenge, err := svc.Challenge(wallet.Address())
	require.NoError(t, err)

	otherSig, err := other.SignText(challenge)
	require.NoError(t, err)
	_, err = svc.Login(wallet.Address(), challenge, otherSig)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	sig, err := wallet.SignText(challenge)
	require.NoError(t, err)
	_, err = svc.Login(other.Address(), challenge, sig)
	assert.ErrorIs(t, err, crypto.ErrChallengeInvalid, "challenge is bound to its address")

	_, err = svc.Challenge("not-an-address")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(secret, time.Hour, time.Minute)
	svc.now = func() time.Time { return now }

	tok, err := svc.Issue("ops", true)
	require.NoError(t, err)
	claims, err := svc.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.Admin)

	svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = svc.Verify(tok.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)

	svc.now = func() time.Time { return now }
	_, err = NewService("another-secret-value", time.Hour, time.Minute).Verify(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: issuer, ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(t.Context())
	assert.False(t, ok)

	ctx := WithPrincipal(t.Context(), Principal{Identity: "0xabc"})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "0xabc", p.Identity)
}
