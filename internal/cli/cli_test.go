package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

const (
	testKey    = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testSecret = "cli-test-secret-0123456789"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `mode = "keeper"

[market]
admin = "0x00000000000000000000000000000000000000aa"
chain_id = 10

[wallet]
private_key = "` + testKey + `"

[server]
jwt_secret = "` + testSecret + `"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeysEncrypt_RoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "key.json")
	_, err := run(t, "keys", "encrypt", "--key", testKey, "--password", "hunter22", "--kdf", "pbkdf2-sha256", "--out", out)
	require.NoError(t, err)

	sealed, err := os.ReadFile(out)
	require.NoError(t, err)
	got, err := crypto.DecryptKey(sealed, "hunter22")
	require.NoError(t, err)
	assert.Equal(t, testKey, strings.TrimPrefix(got, "0x"))

	_, err = run(t, "keys", "encrypt", "--key", testKey)
	if os.Getenv("OPINIONS_WALLET_KEY_PASSWORD") == "" {
		assert.ErrorContains(t, err, "--password is required")
	}
}

func TestKeysAddress(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, 10)
	require.NoError(t, err)

	out, err := run(t, "--config", writeConfig(t), "keys", "address")
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), strings.TrimSpace(out))
}

func TestSessionSign_ProducesVerifiableGrant(t *testing.T) {
	sessionKey := "0x00000000000000000000000000000000000000bb"
	out, err := run(t, "--config", writeConfig(t), "session", "sign",
		"--session-key", sessionKey, "--expires-in", "2h", "--privilege", "vote,claim")
	require.NoError(t, err)

	var grant signedGrant
	require.NoError(t, json.Unmarshal([]byte(out), &grant))
	assert.Equal(t, []string{"vote", "claim"}, grant.Privileges)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), grant.ExpiresAt, time.Minute)

	v := crypto.NewVerifier(10)
	g := domain.SessionGrant{
		Participant:    grant.Participant,
		SessionKey:     grant.SessionKey,
		ExpiresAt:      grant.ExpiresAt,
		Privileges:     grant.Privileges,
		PrivilegesHash: v.HashPrivileges(grant.Privileges),
	}
	assert.NoError(t, v.VerifyGrant(g, grant.Signature))

	wrongChain := crypto.NewVerifier(11)
	assert.ErrorIs(t, wrongChain.VerifyGrant(g, grant.Signature), domain.ErrInvalidSignature)

	_, err = run(t, "--config", writeConfig(t), "session", "sign", "--session-key", "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTokenIssue(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "token", "issue", "--identity", "ops", "--admin")
	require.NoError(t, err)

	var tok auth.Token
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	assert.Equal(t, "ops", tok.Identity)

	claims, err := auth.NewService(testSecret, time.Hour, time.Minute).Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.Admin)

	_, err = run(t, "--config", writeConfig(t), "token", "issue")
	assert.ErrorContains(t, err, "--identity is required")
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "migrate")
	assert.ErrorContains(t, err, "not postgres")
}
