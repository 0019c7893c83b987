package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters
	pbkdfIterations = 100000
	saltLength      = 32
	keyLength       = 32

	algorithmEd25519 = "Ed25519"
)

// KeyPair represents a signing key pair
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	Algorithm  string
	Created    time.Time
}

// Encryptor seals and opens data with AES-GCM
type Encryptor struct {
	cipher cipher.AEAD
}

// CryptoManager signs journal events with the active key pair
type CryptoManager struct {
	activeKeyPair *KeyPair
}

// NewCryptoManager creates a new cryptographic manager
func NewCryptoManager(keyPair *KeyPair) (*CryptoManager, error) {
	if keyPair == nil || len(keyPair.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key not available")
	}
	return &CryptoManager{activeKeyPair: keyPair}, nil
}

// GenerateKeyPair creates a new Ed25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	return &KeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Algorithm:  algorithmEd25519,
		Created:    time.Now().UTC(),
	}, nil
}

// Sign creates a digital signature for data
func (cm *CryptoManager) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(cm.activeKeyPair.PrivateKey, data), nil
}

// PublicKey returns the verification key
func (cm *CryptoManager) PublicKey() ed25519.PublicKey {
	return cm.activeKeyPair.PublicKey
}

// ExportPublicKey returns the public key base64 encoded
func (cm *CryptoManager) ExportPublicKey() string {
	return base64.StdEncoding.EncodeToString(cm.activeKeyPair.PublicKey)
}

// Fingerprint returns a short hex digest identifying the public key
func (cm *CryptoManager) Fingerprint() string {
	return HashData(cm.activeKeyPair.PublicKey)[:16]
}

// HashData creates a SHA-256 hex digest of data
func HashData(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// DeriveKey derives an encryption key from a password
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdfIterations, keyLength, sha256.New)
}

// GenerateSalt generates a random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// NewEncryptor creates an AES-GCM encryptor for a 16, 24 or 32 byte key
func NewEncryptor(key []byte) (*Encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Encryptor{cipher: gcm}, nil
}

// Encrypt encrypts data and prepends the random nonce
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, e.cipher.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return e.cipher.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data produced by Encrypt
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.cipher.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:nonceSize]
	ciphertext = ciphertext[nonceSize:]

	plaintext, err := e.cipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting data: %w", err)
	}
	return plaintext, nil
}
