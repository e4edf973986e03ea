package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lighthouse-p2p/lighthouse/pkg/types"
)

// Signature contexts give each operation its own signing domain, so a
// signature captured for one operation can never satisfy another.
const (
	sigContextRegister  = "lighthouse.register.v1"
	sigContextLookup    = "lighthouse.lookup.v1"
	sigContextListConns = "lighthouse.listconns.v1"
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// DeriveID maps a public key onto its stable node id. Two registrations
// with the same key always resolve to the same id.
func DeriveID(pub ed25519.PublicKey) types.NodeID {
	return types.NodeID(sha256.Sum256(pub))
}

// ParsePublicKey decodes a hex-encoded ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes", ErrInvalidPublicKey, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// ParseSignature decodes a hex-encoded ed25519 signature.
func ParseSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: expected %d bytes", ErrInvalidSignature, ed25519.SignatureSize)
	}
	return b, nil
}

// RegisterMessage is the canonical payload signed by a register request.
// It is built from the semantic fields only, never the transport bytes.
func RegisterMessage(pub ed25519.PublicKey, endpoint types.Endpoint, timestamp int64) []byte {
	return canonical(hex.EncodeToString(pub), endpoint.String(), strconv.FormatInt(timestamp, 10))
}

// LookupMessage is the canonical payload signed by a lookup request when
// the deployment requires signed lookups.
func LookupMessage(id types.NodeID, client types.Endpoint, timestamp int64) []byte {
	return canonical(id.String(), client.String(), strconv.FormatInt(timestamp, 10))
}

// ListConnsMessage is the canonical payload signed by a listconns request.
func ListConnsMessage(id types.NodeID, timestamp int64) []byte {
	return canonical(id.String(), strconv.FormatInt(timestamp, 10))
}

func canonical(fields ...string) []byte {
	return []byte(strings.Join(fields, "|"))
}

func VerifyRegister(pub ed25519.PublicKey, sig []byte, endpoint types.Endpoint, timestamp int64) bool {
	return verify(pub, RegisterMessage(pub, endpoint, timestamp), sig, sigContextRegister)
}

func VerifyLookup(pub ed25519.PublicKey, sig []byte, id types.NodeID, client types.Endpoint, timestamp int64) bool {
	return verify(pub, LookupMessage(id, client, timestamp), sig, sigContextLookup)
}

func VerifyListConns(pub ed25519.PublicKey, sig []byte, id types.NodeID, timestamp int64) bool {
	return verify(pub, ListConnsMessage(id, timestamp), sig, sigContextListConns)
}

func SignRegister(priv ed25519.PrivateKey, endpoint types.Endpoint, timestamp int64) ([]byte, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("private key is not ed25519")
	}
	return sign(priv, RegisterMessage(pub, endpoint, timestamp), sigContextRegister)
}

func SignLookup(priv ed25519.PrivateKey, id types.NodeID, client types.Endpoint, timestamp int64) ([]byte, error) {
	return sign(priv, LookupMessage(id, client, timestamp), sigContextLookup)
}

func SignListConns(priv ed25519.PrivateKey, id types.NodeID, timestamp int64) ([]byte, error) {
	return sign(priv, ListConnsMessage(id, timestamp), sigContextListConns)
}

func sign(priv ed25519.PrivateKey, payload []byte, context string) ([]byte, error) {
	return priv.Sign(nil, payload, &ed25519.Options{Context: context})
}

// verify reports whether sig was produced by the private counterpart of pub
// over exactly payload. Malformed input yields false, never a panic.
func verify(pub ed25519.PublicKey, payload, sig []byte, context string) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.VerifyWithOptions(pub, payload, sig, &ed25519.Options{Context: context}) == nil
}
