// Package crypto provides key management and transaction signing for the
// venue account.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion    = 1
	defaultIterations = 480_000
	minIterations     = 100_000
	saltLen           = 16
)

var (
	// ErrNoKeySource is returned when neither a raw key nor a key file is configured.
	ErrNoKeySource = errors.New("crypto: no private key configured")
	// ErrSlotMismatch is returned when a key file was sealed for another
	// account or API key index.
	ErrSlotMismatch = errors.New("crypto: key file belongs to another api key slot")
)

// Slot is the venue API key a private key is registered under.
type Slot struct {
	AccountIndex int64
	APIKeyIndex  uint8
}

func (s Slot) String() string {
	return fmt.Sprintf("account %d api key %d", s.AccountIndex, s.APIKeyIndex)
}

// keyFile is the on-disk sealed key. The slot and address are
// authenticated as GCM additional data, so editing them breaks decryption.
type keyFile struct {
	Version      int    `json:"version"`
	AccountIndex int64  `json:"account_index"`
	APIKeyIndex  uint8  `json:"api_key_index"`
	Address      string `json:"address"`
	Iterations   int    `json:"iterations"`
	Salt         []byte `json:"salt"`
	Nonce        []byte `json:"nonce"`
	Ciphertext   []byte `json:"ciphertext"`
}

func (f *keyFile) slot() Slot {
	return Slot{AccountIndex: f.AccountIndex, APIKeyIndex: f.APIKeyIndex}
}

func (f *keyFile) additionalData() []byte {
	return fmt.Appendf(nil, "perpbot-key/v%d/%d/%d/%s",
		f.Version, f.AccountIndex, f.APIKeyIndex, strings.ToLower(f.Address))
}

// KeyConfig says where LoadKey finds the signing key and which slot it must
// belong to.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
	Slot             Slot
}

// EncryptKey seals a hex private key for slot with a password
// (PBKDF2-SHA256 into AES-256-GCM) and returns the key file contents.
func EncryptKey(privateKeyHex, password string, slot Slot) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	f := keyFile{
		Version:      keyFileVersion,
		AccountIndex: slot.AccountIndex,
		APIKeyIndex:  slot.APIKeyIndex,
		Address:      ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Iterations:   defaultIterations,
		Salt:         make([]byte, saltLen),
	}
	if _, err := rand.Read(f.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := deriveAEAD(password, f.Salt, f.Iterations)
	if err != nil {
		return nil, err
	}
	f.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(f.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	f.Ciphertext = aead.Seal(nil, f.Nonce, ethcrypto.FromECDSA(pk), f.additionalData())

	return json.MarshalIndent(f, "", "  ")
}

// DecryptKey opens a key file for slot and returns the hex private key
// without a 0x prefix. The decrypted key must derive the recorded address.
func DecryptKey(data []byte, password string, slot Slot) (string, error) {
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if f.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", f.Version)
	}
	if f.slot() != slot {
		return "", fmt.Errorf("%w: file is for %s, configured %s", ErrSlotMismatch, f.slot(), slot)
	}
	if f.Iterations < minIterations {
		return "", fmt.Errorf("crypto: key file iterations %d below %d", f.Iterations, minIterations)
	}

	aead, err := deriveAEAD(password, f.Salt, f.Iterations)
	if err != nil {
		return "", err
	}
	if len(f.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes", len(f.Nonce))
	}
	plain, err := aead.Open(nil, f.Nonce, f.Ciphertext, f.additionalData())
	if err != nil {
		return "", errors.New("crypto: key file did not decrypt (wrong password or edited file)")
	}

	keyHex := hex.EncodeToString(plain)
	pk, err := parseKey(keyHex)
	if err != nil {
		return "", err
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(); !strings.EqualFold(got, f.Address) {
		return "", fmt.Errorf("crypto: key file address %s does not match key %s", f.Address, got)
	}
	return keyHex, nil
}

// LoadKey returns the configured signing key. A raw key wins over a key file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		if _, err := parseKey(cfg.RawPrivateKey); err != nil {
			return "", err
		}
		return strings.TrimPrefix(cfg.RawPrivateKey, "0x"), nil
	}
	if cfg.EncryptedKeyPath == "" {
		return "", ErrNoKeySource
	}
	if cfg.KeyPassword == "" {
		return "", errors.New("crypto: key file password is empty")
	}
	data, err := os.ReadFile(cfg.EncryptedKeyPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read key file: %w", err)
	}
	return DecryptKey(data, cfg.KeyPassword, cfg.Slot)
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

func deriveAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
