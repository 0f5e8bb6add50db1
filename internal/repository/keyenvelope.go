// Package repository implements a content-addressed, deduplicating,
// encrypted archive store, grounded on original_source/lib/Borg.py's
// wrapping of the Borg backup tool. The Go port keeps Borg's shape --
// one passphrase-protected repository holding many named archives, each
// built from deduplicated content-addressed chunks -- but implements the
// store natively instead of shelling to the borg binary, since the goal
// here is a library-native archive engine, not a wrapper around another
// external tool.
package repository

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"golang.org/x/crypto/pbkdf2"
)

const masterKeyLen = 32 // AES-256

// keyEnvelope is the on-disk, password-wrapped repository master key,
// the Go analogue of Borg's repokey: changing the repository password
// only ever rewraps this envelope, never the archive content encrypted
// under the master key.
type keyEnvelope struct {
	Salt       []byte `json:"salt"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
}

const keyFileName = "key"

func deriveWrapKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 200000, masterKeyLen, sha256.New)
}

func generateMasterKey(repoDir, password string) ([]byte, error) {
	masterKey := make([]byte, masterKeyLen)
	if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := writeKeyEnvelope(repoDir, password, masterKey); err != nil {
		return nil, err
	}
	return masterKey, nil
}

func writeKeyEnvelope(repoDir, password string, masterKey []byte) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	wrapKey := deriveWrapKey(password, salt)

	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fmt.Errorf("generate iv: %w", err)
	}
	padded := pkcs7PadKey(masterKey, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	env := keyEnvelope{Salt: salt, IV: iv, Ciphertext: ciphertext}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal key envelope: %w", err)
	}
	return os.WriteFile(filepath.Join(repoDir, keyFileName), raw, 0o600)
}

func openMasterKey(repoDir, password string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(repoDir, keyFileName))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindRepositoryCorrupt, "read key envelope", err)
	}
	var env keyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindRepositoryCorrupt, "parse key envelope", err)
	}

	wrapKey := deriveWrapKey(password, env.Salt)
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(env.Ciphertext)%aes.BlockSize != 0 {
		return nil, insecaerr.New(insecaerr.KindRepositoryCorrupt, "malformed key envelope ciphertext")
	}
	padded := make([]byte, len(env.Ciphertext))
	cipher.NewCBCDecrypter(block, env.IV).CryptBlocks(padded, env.Ciphertext)
	masterKey, err := pkcs7UnpadKey(padded)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindWrongPassphrase, "unwrap repository key", err)
	}
	return masterKey, nil
}

// ChangePassword rewraps the repository's master key under newPassword,
// never touching already-stored archive content.
func ChangePassword(repoDir, oldPassword, newPassword string) error {
	masterKey, err := openMasterKey(repoDir, oldPassword)
	if err != nil {
		return err
	}
	return writeKeyEnvelope(repoDir, newPassword, masterKey)
}

func pkcs7PadKey(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7UnpadKey(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty padded key data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	return data[:len(data)-padLen], nil
}

func encryptChunk(masterKey, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	padded := pkcs7PadKey(plain, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return append(iv, ciphertext...), nil
}

func decryptChunk(masterKey, sealed []byte) ([]byte, error) {
	if len(sealed) < aes.BlockSize {
		return nil, fmt.Errorf("sealed chunk too short")
	}
	iv, ciphertext := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not a multiple of the block size")
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7UnpadKey(padded)
}
