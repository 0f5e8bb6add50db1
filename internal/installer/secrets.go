package installer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// randomFileName produces an unpredictable filename for a staged userdata
// resource, mirroring _install_userdata's str(uuid.uuid4()).
func randomFileName() (string, error) {
	return generateSecret(16)
}

// sha256Hex hashes data and returns its hex digest, used to derive a
// digest of blob1's private key material for the fingerprint chain's
// "key-2 private" checkpoint.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// generateSecret returns n random bytes hex-encoded, the Go-native
// equivalent of util.gen_random_bytes used throughout Installer.py for
// blob0, the internal-partition password and the data-partition password.
func generateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
