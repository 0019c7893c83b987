package security

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"election_ledger/pkg/utils"

	"go.uber.org/zap"
)

const keyFileVersion = 1

var ErrWrongPassphrase = errors.New("key file cannot be opened with this passphrase")

// sealedKey is the on-disk form of a key pair. The private key is
// encrypted with a key derived from the passphrase.
type sealedKey struct {
	Version    int       `json:"version"`
	Algorithm  string    `json:"algorithm"`
	Created    time.Time `json:"created"`
	PublicKey  []byte    `json:"public_key"`
	Salt       []byte    `json:"salt"`
	Ciphertext []byte    `json:"ciphertext"`
}

var keyFiles = &utils.FileHelper{}

// SaveKeyPair seals kp with passphrase and writes it atomically to path
func SaveKeyPair(path string, kp *KeyPair, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase is required to seal key file")
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	enc, err := NewEncryptor(DeriveKey([]byte(passphrase), salt))
	if err != nil {
		return err
	}
	ciphertext, err := enc.Encrypt(kp.PrivateKey.Seed())
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	data, err := json.MarshalIndent(sealedKey{
		Version:    keyFileVersion,
		Algorithm:  kp.Algorithm,
		Created:    kp.Created,
		PublicKey:  kp.PublicKey,
		Salt:       salt,
		Ciphertext: ciphertext,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding key file: %w", err)
	}

	return keyFiles.WriteFileSafely(path, data, 0600)
}

// LoadKeyPair reads and unseals the key pair at path
func LoadKeyPair(path, passphrase string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var sealed sealedKey
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}
	if sealed.Version != keyFileVersion {
		return nil, fmt.Errorf("unsupported key file version %d", sealed.Version)
	}
	if sealed.Algorithm != algorithmEd25519 {
		return nil, fmt.Errorf("unsupported key algorithm %q", sealed.Algorithm)
	}

	enc, err := NewEncryptor(DeriveKey([]byte(passphrase), sealed.Salt))
	if err != nil {
		return nil, err
	}
	seed, err := enc.Decrypt(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file holds a %d byte seed", len(seed))
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	if !publicKey.Equal(ed25519.PublicKey(sealed.PublicKey)) {
		return nil, fmt.Errorf("key file public key does not match private key")
	}

	return &KeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Algorithm:  sealed.Algorithm,
		Created:    sealed.Created,
	}, nil
}

// LoadOrCreateKeyPair loads the key pair at path, generating and saving a
// new one when the file does not exist yet
func LoadOrCreateKeyPair(path, passphrase string, logger *zap.Logger) (*KeyPair, error) {
	kp, err := LoadKeyPair(path, passphrase)
	if err == nil {
		logger.Info("Loaded signing key", zap.String("path", path))
		return kp, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := SaveKeyPair(path, kp, passphrase); err != nil {
		return nil, fmt.Errorf("saving new key pair: %w", err)
	}

	logger.Info("Generated signing key", zap.String("path", path))
	return kp, nil
}
