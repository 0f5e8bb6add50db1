// Package metadata implements the envelope crypto, canonical JSON codec
// and signed device records used by provisioning, verification and
// updates. Grounded on original_source/lib/CryptoGen.py, CryptoPass.py
// and CryptoX509.py, reimplemented with Go's standard crypto and
// golang.org/x/crypto/pbkdf2 instead of shelling out to openssl, since
// Go's crypto/aes, crypto/rsa and crypto/hmac are the idiomatic and
// equally trustworthy vehicle for this, and avoid spawning a process per
// small blob of metadata.
package metadata

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/ulikunitz/xz"
)

// EncodeASCII turns arbitrary bytes into a single printable-ASCII line
// suitable for storage in JSON metadata, per CryptoGen.py's
// data_encode_to_ascii: the data is XZ-compressed when doing so actually
// shrinks it, and the first character of the result tags the encoding
// ("B" compressed binary, "b" raw binary; string inputs get upper/lower
// case "S"/"s" but this port treats everything as bytes).
func EncodeASCII(data []byte) (string, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("create xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish compression: %w", err)
	}
	compressed := buf.Bytes()

	if len(compressed) < len(data) {
		return "B" + base64.StdEncoding.EncodeToString(compressed), nil
	}
	return "b" + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeASCII reverses EncodeASCII.
func DecodeASCII(encoded string) ([]byte, error) {
	if len(encoded) < 1 {
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "empty encoded data")
	}
	tag, body := encoded[0], encoded[1:]
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "invalid base64 in encoded data", err)
	}
	switch tag {
	case 'b', 's':
		return raw, nil
	case 'B', 'S':
		r, err := xz.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "invalid xz stream", err)
		}
		var out bytes.Buffer
		if _, err := out.ReadFrom(r); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "decompress xz stream", err)
		}
		return out.Bytes(), nil
	default:
		return nil, insecaerr.New(insecaerr.KindMetadataCorrupt, fmt.Sprintf("unknown encoding tag %q", tag))
	}
}
