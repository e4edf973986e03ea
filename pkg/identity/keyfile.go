package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
)

const (
	keysDir = "keys"

	privKeyName = "node_ed25519.key"
	pubKeyName  = "node_ed25519.pub"

	pemTypePriv = "LIGHTHOUSE ED25519 PRIVATE KEY"
	pemTypePub  = "LIGHTHOUSE ED25519 PUBLIC KEY"

	keyDirPerm  = 0o700
	keyFilePerm = 0o600
)

// LoadKey reads the node keypair from <dir>/keys.
func LoadKey(dir string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privPath := filepath.Join(dir, keysDir, privKeyName)
	pubPath := filepath.Join(dir, keysDir, pubKeyName)

	privRaw, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, err
	}

	pubRaw, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, err
	}

	privBlock, _ := pem.Decode(privRaw)
	if privBlock == nil || privBlock.Type != pemTypePriv {
		return nil, nil, errors.New("invalid private key PEM")
	}
	if len(privBlock.Bytes) != ed25519.SeedSize {
		return nil, nil, errors.New("invalid private key length")
	}
	priv := ed25519.NewKeyFromSeed(privBlock.Bytes)

	pubBlock, _ := pem.Decode(pubRaw)
	if pubBlock == nil || pubBlock.Type != pemTypePub {
		return nil, nil, errors.New("invalid public key PEM")
	}
	if len(pubBlock.Bytes) != ed25519.PublicKeySize {
		return nil, nil, errors.New("invalid public key length")
	}
	pub := ed25519.PublicKey(pubBlock.Bytes)

	derivedPub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, nil, errors.New("private key is not ed25519")
	}
	if !bytes.Equal(derivedPub, pub) {
		return nil, nil, errors.New("keypair mismatch")
	}

	return priv, pub, nil
}

// LoadOrCreateKey loads the node keypair, generating and persisting one if
// none exists yet.
func LoadOrCreateKey(dir string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	priv, pub, err := LoadKey(dir)
	if err == nil {
		return priv, pub, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}

	keyDir := filepath.Join(dir, keysDir)
	if err := os.MkdirAll(keyDir, keyDirPerm); err != nil {
		return nil, nil, err
	}

	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	if err := writePEM(filepath.Join(keyDir, privKeyName), pemTypePriv, priv.Seed()); err != nil {
		return nil, nil, err
	}
	if err := writePEM(filepath.Join(keyDir, pubKeyName), pemTypePub, pub); err != nil {
		return nil, nil, err
	}

	return priv, pub, nil
}

func writePEM(path, blockType string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, keyFilePerm)
	if err != nil {
		return err
	}

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: b}); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
