package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrChallengeInvalid is returned for tampered, malformed or stale challenges.
var ErrChallengeInvalid = errors.New("crypto: invalid login challenge")

// ChallengeSigner issues stateless login challenges. A challenge embeds the
// address, issue time and a nonce, and is MACed so the server can check it
// on login without storing it.
type ChallengeSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewChallengeSigner creates a ChallengeSigner. ttl bounds how long a
// challenge may sit between issue and login.
func NewChallengeSigner(secret string, ttl time.Duration) *ChallengeSigner {
	return &ChallengeSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns the challenge text the wallet must personal_sign.
func (c *ChallengeSigner) Issue(address string) (string, error) {
	return c.issueAt(address, c.now())
}

func (c *ChallengeSigner) issueAt(address string, at time.Time) (string, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: challenge nonce: %w", err)
	}
	body := strings.Join([]string{
		address,
		strconv.FormatInt(at.Unix(), 10),
		hex.EncodeToString(nonce),
	}, "|")
	return "opinions-login|" + body + "|" + hmacSHA256Base64(c.secret, body), nil
}

// Check validates a challenge issued for address and returns its issue time.
func (c *ChallengeSigner) Check(challenge, address string) (time.Time, error) {
	parts := strings.Split(challenge, "|")
	if len(parts) != 5 || parts[0] != "opinions-login" {
		return time.Time{}, ErrChallengeInvalid
	}
	body := strings.Join(parts[1:4], "|")
	if !hmac.Equal([]byte(parts[4]), []byte(hmacSHA256Base64(c.secret, body))) {
		return time.Time{}, ErrChallengeInvalid
	}
	if !strings.EqualFold(parts[1], address) {
		return time.Time{}, ErrChallengeInvalid
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, ErrChallengeInvalid
	}
	issued := time.Unix(ts, 0)
	if c.now().Sub(issued) > c.ttl {
		return time.Time{}, fmt.Errorf("%w: expired", ErrChallengeInvalid)
	}
	return issued, nil
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as base64 raw URL encoding.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
