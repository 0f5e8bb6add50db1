package metadata

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/insecakey/inseca/internal/insecaerr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 200000 // CryptoPass.py uses openssl's own pbkdf2 default iteration count; this is our equivalent cost
	aesKeyLen        = 32     // AES-256
)

// EncryptWithPassword produces a "digest:payload" envelope, where payload
// is EncodeASCII(salt || iv || ciphertext) and the AES-256-CBC key is
// derived from password via PBKDF2-HMAC-SHA256, mirroring
// CryptoPass.CryptoPassword.encrypt's "<digest>:<enc_data>" format.
func EncryptWithPassword(password string, data []byte) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	ciphertext, iv, err := aesCBCEncrypt(key, data)
	if err != nil {
		return "", err
	}

	payload := append(append([]byte{}, salt...), append(iv, ciphertext...)...)
	enc, err := EncodeASCII(payload)
	if err != nil {
		return "", err
	}
	return "sha256:" + enc, nil
}

// DecryptWithPassword reverses EncryptWithPassword.
func DecryptWithPassword(password string, envelope string) ([]byte, error) {
	digest, enc, ok := strings.Cut(envelope, ":")
	if !ok || digest == "" || enc == "" {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "invalid password envelope format")
	}
	payload, err := DecodeASCII(enc)
	if err != nil {
		return nil, err
	}
	if len(payload) < 16+aes.BlockSize {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "truncated password envelope")
	}
	salt, rest := payload[:16], payload[16:]
	iv, ciphertext := rest[:aes.BlockSize], rest[aes.BlockSize:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	plain, err := aesCBCDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindWrongPassphrase, "decrypt password envelope", err)
	}
	return plain, nil
}

func aesCBCEncrypt(key, data []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}
	padded := pkcs7Pad(data, aes.BlockSize)
	iv = make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("generate iv: %w", err)
	}
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, iv, nil
}

func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return pkcs7Unpad(plain)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes_Repeat(byte(padLen), padLen)
	return append(append([]byte{}, data...), padding...)
}

func bytes_Repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padLen], nil
}

// HMACSign computes a hex HMAC-SHA256 of data keyed by password, per
// CryptoPass.py's compute_hmac/sign.
func HMACSign(password string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACVerify reports whether signature is the correct HMAC-SHA256 of data
// under password.
func HMACVerify(password string, data []byte, signature string) error {
	want := HMACSign(password, data)
	if hmac.Equal([]byte(want), []byte(signature)) {
		return nil
	}
	return insecaerr.New(insecaerr.KindSignatureInvalid, "hmac signature verification failed")
}

// EncryptWithPublicKey produces a "digest:enc_key:rsa:enc_data" envelope:
// a random AES-256 key encrypts data, and an RSA-OAEP wrap of that key is
// stored alongside, mirroring CryptoX509.CryptoKey.encrypt's hybrid
// scheme (minus shelling to openssl rsautl).
func EncryptWithPublicKey(pubKeyPEM []byte, data []byte) (string, error) {
	pub, err := parseRSAPublicKey(pubKeyPEM)
	if err != nil {
		return "", err
	}

	symKey := make([]byte, aesKeyLen)
	if _, err := io.ReadFull(rand.Reader, symKey); err != nil {
		return "", fmt.Errorf("generate symmetric key: %w", err)
	}

	encKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, symKey, nil)
	if err != nil {
		return "", fmt.Errorf("wrap symmetric key: %w", err)
	}
	encKeyASCII, err := EncodeASCII(encKey)
	if err != nil {
		return "", err
	}

	ciphertext, iv, err := aesCBCEncrypt(symKey, data)
	if err != nil {
		return "", err
	}
	encData, err := EncodeASCII(append(iv, ciphertext...))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%s:rsa:%s", encKeyASCII, encData), nil
}

// DecryptWithPrivateKey reverses EncryptWithPublicKey.
func DecryptWithPrivateKey(privKeyPEM []byte, envelope string) ([]byte, error) {
	parts := strings.SplitN(envelope, ":", 4)
	if len(parts) != 4 {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "invalid rsa envelope format")
	}
	_, encKeyASCII, algo, encDataASCII := parts[0], parts[1], parts[2], parts[3]
	if algo != "rsa" {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, fmt.Sprintf("unsupported envelope algo %q", algo))
	}

	priv, err := parseRSAPrivateKey(privKeyPEM)
	if err != nil {
		return nil, err
	}

	encKey, err := DecodeASCII(encKeyASCII)
	if err != nil {
		return nil, err
	}
	symKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, encKey, nil)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindEncryptionError, "unwrap symmetric key", err)
	}

	payload, err := DecodeASCII(encDataASCII)
	if err != nil {
		return nil, err
	}
	if len(payload) < aes.BlockSize {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "truncated rsa envelope")
	}
	iv, ciphertext := payload[:aes.BlockSize], payload[aes.BlockSize:]
	return aesCBCDecrypt(symKey, iv, ciphertext)
}

// SignWithPrivateKey computes a "sha256|<ascii-signature>" over data's
// SHA-256 digest using RSA PKCS#1v1.5, per CryptoX509.CryptoKey.sign.
func SignWithPrivateKey(privKeyPEM []byte, data []byte) (string, error) {
	priv, err := parseRSAPrivateKey(privKeyPEM)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	ascii, err := EncodeASCII(sig)
	if err != nil {
		return "", err
	}
	return "sha256|" + ascii, nil
}

// VerifyWithPublicKey verifies a signature produced by SignWithPrivateKey.
func VerifyWithPublicKey(pubKeyPEM []byte, data []byte, signature string) error {
	pub, err := parseRSAPublicKey(pubKeyPEM)
	if err != nil {
		return err
	}
	_, sigASCII, ok := strings.Cut(signature, "|")
	if !ok {
		return insecaerr.New(insecaerr.KindMetadataCorrupt, "invalid signature format")
	}
	sig, err := DecodeASCII(sigASCII)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return insecaerr.Wrap(insecaerr.KindSignatureInvalid, "rsa signature verification failed", err)
	}
	return nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "invalid PEM public key")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "public key is not RSA")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "invalid public key or certificate", err)
	}
	rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "certificate public key is not RSA")
	}
	return rsaKey, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "invalid PEM private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "invalid private key", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "private key is not RSA")
	}
	return rsaKey, nil
}
