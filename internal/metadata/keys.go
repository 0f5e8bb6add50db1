package metadata

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// rsaKeyBits matches CryptoX509.gen_rsa_key_pair's "openssl genrsa ... 2048".
const rsaKeyBits = 2048

// GenerateRSAKeyPair creates a fresh PKCS1-PEM private key and matching
// PKIX-PEM public key, mirroring CryptoX509.gen_rsa_key_pair -- done with
// Go's crypto/rsa rather than shelling out to openssl, since every caller
// here already has data in memory and needs no on-disk intermediate.
func GenerateRSAKeyPair() (privPEM, pubPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate rsa key: %w", err)
	}

	privPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rsa public key: %w", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})
	return privPEM, pubPEM, nil
}
