// Package crypto provides the EIP-712 session-grant scheme, wallet login
// signatures, content-addressed post ids and encrypted key files.
package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// DomainName and DomainVersion identify the market's EIP-712 domain.
const (
	DomainName    = "OpinionsMarket"
	DomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	sessionGrantTypeHash = ethcrypto.Keccak256(
		[]byte("SessionGrant(address participant,address sessionKey,uint64 expiresAt,bytes32 privilegesHash)"),
	)

	zeroHash = make([]byte, 32)
)

// GrantMessage is the typed payload a participant signs to delegate to a
// session key.
type GrantMessage struct {
	Participant    string
	SessionKey     string
	ExpiresAt      time.Time
	PrivilegesHash string
}

// GrantMessageFor builds the signed payload for g.
func GrantMessageFor(g domain.SessionGrant) GrantMessage {
	return GrantMessage{
		Participant:    g.Participant,
		SessionKey:     g.SessionKey,
		ExpiresAt:      g.ExpiresAt,
		PrivilegesHash: g.PrivilegesHash,
	}
}

// PrivilegesHash is the EIP-712 encoding of a string[] of privileges after
// sorting and de-duplication. An empty set hashes to the zero word, which
// grants every privilege.
func PrivilegesHash(privileges []string) string {
	set := slices.Clone(privileges)
	slices.Sort(set)
	set = slices.Compact(set)
	if len(set) == 0 {
		return "0x" + hex.EncodeToString(zeroHash)
	}
	parts := make([][]byte, 0, len(set))
	for _, p := range set {
		parts = append(parts, ethcrypto.Keccak256([]byte(p)))
	}
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(concatBytes(parts...)))
}

// Signer produces session grants and login signatures with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key for chainID.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the checksummed address of the signing key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignGrant signs m and returns a 0x-prefixed 65-byte signature.
func (s *Signer) SignGrant(m GrantMessage) (string, error) {
	structHash, err := grantStructHash(m)
	if err != nil {
		return "", err
	}
	return s.signDigest(eip712Hash(s.domainSep, structHash))
}

// SignText produces an EIP-191 personal_sign signature over message.
func (s *Signer) SignText(message string) (string, error) {
	return s.signDigest(accounts.TextHash([]byte(message)))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets use {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Verifier checks session-grant signatures against the market domain.
type Verifier struct {
	domainSep []byte
}

// NewVerifier creates a Verifier for chainID.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID)}
}

// HashPrivileges is PrivilegesHash.
func (v *Verifier) HashPrivileges(privileges []string) string {
	return PrivilegesHash(privileges)
}

// VerifyGrant reports domain.ErrInvalidSignature unless signature was made
// by the grant's participant over the grant's typed payload.
func (v *Verifier) VerifyGrant(g domain.SessionGrant, signature string) error {
	if !common.IsHexAddress(g.Participant) || !common.IsHexAddress(g.SessionKey) {
		return fmt.Errorf("%w: participant and session key must be addresses", domain.ErrInvalidSignature)
	}
	structHash, err := grantStructHash(GrantMessageFor(g))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	signer, err := recoverAddress(eip712Hash(v.domainSep, structHash), signature)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if signer != common.HexToAddress(g.Participant) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// RecoverText returns the address that personal_signed message.
func RecoverText(message, signature string) (string, error) {
	addr, err := recoverAddress(accounts.TextHash([]byte(message)), signature)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// NormalizeAddress returns the checksummed form of a hex address.
func NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("crypto: %w: %q is not a hex address", domain.ErrInvalidInput, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// PostID derives the content-addressed id of a post:
// hex(keccak256(creator || contentID)).
func PostID(creator, contentID string) string {
	return hex.EncodeToString(ethcrypto.Keccak256([]byte(creator), []byte(contentID)))
}

func recoverAddress(digest []byte, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
			common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func grantStructHash(m GrantMessage) ([]byte, error) {
	if m.ExpiresAt.Unix() < 0 {
		return nil, errors.New("expiry before epoch")
	}
	privHash, err := hex.DecodeString(strings.TrimPrefix(m.PrivilegesHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("privileges hash: %w", err)
	}
	switch len(privHash) {
	case 0:
		privHash = zeroHash
	case 32:
	default:
		return nil, fmt.Errorf("privileges hash must be 32 bytes, got %d", len(privHash))
	}

	return ethcrypto.Keccak256(
		concatBytes(
			sessionGrantTypeHash,
			common.LeftPadBytes(common.HexToAddress(m.Participant).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(m.SessionKey).Bytes(), 32),
			common.LeftPadBytes(new(big.Int).SetUint64(uint64(m.ExpiresAt.Unix())).Bytes(), 32),
			privHash,
		),
	), nil
}

// IsZeroHash reports whether h encodes the unrestricted privilege set.
func IsZeroHash(h string) bool {
	b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	return err == nil && (len(b) == 0 || bytes.Equal(b, zeroHash))
}

func concatBytes(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
