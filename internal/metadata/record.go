package metadata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/insecakey/inseca/internal/insecaerr"
)

// VerifData is the per-device section used to detect tampering of the
// partition table and of each partition's content, grounded on
// Device.py's seal_metadata/get_partitions_layout ("verif" key, holding
// "table-hash" plus one free-form dict per partition).
type VerifData struct {
	TableHash  string           `json:"table-hash"`
	Partitions []map[string]any `json:"partitions"`
}

// MetaRecord is the full unsigned record written to (and read back from)
// a device, mirroring the dict produced by AppendedData.MetaData as
// consumed by Device.py's get_unprotected_data/get_protected_data/
// get_hardware_id/get_partitions_layout.
type MetaRecord struct {
	HWID        map[string]any    `json:"hw-id"`
	Unprotected map[string]any    `json:"unprotected"`
	Protected   map[string]string `json:"protected"` // decryptor id -> password envelope of a JSON blob
	Verif       VerifData         `json:"verif"`
}

// EncodeMetaRecord canonicalizes m for storage or hashing.
func EncodeMetaRecord(m *MetaRecord) ([]byte, error) {
	return CanonicalJSON(m)
}

// DecodeMetaRecord parses a record previously produced by EncodeMetaRecord.
func DecodeMetaRecord(data []byte) (*MetaRecord, error) {
	var m MetaRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "parse meta record", err)
	}
	return &m, nil
}

// SealProtectedData encrypts one JSON blob of data per decryptor, keyed
// by decryptor ID, each with its own password -- the password-protected
// analogue of Device.py's reliance on crypto.create_crypto_objects_list
// to produce data["protected"].
func SealProtectedData(data map[string]any, passwords map[string]string) (map[string]string, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal protected data: %w", err)
	}
	out := make(map[string]string, len(passwords))
	for id, password := range passwords {
		env, err := EncryptWithPassword(password, blob)
		if err != nil {
			return nil, fmt.Errorf("seal protected data for %q: %w", id, err)
		}
		out[id] = env
	}
	return out, nil
}

// OpenProtectedData decrypts every entry of protected for which a
// matching password is supplied, merging the resulting JSON blobs,
// mirroring Device.py's get_protected_data loop over crypto_objects.
func OpenProtectedData(protected map[string]string, passwords map[string]string) (map[string]any, error) {
	result := make(map[string]any)
	found := false
	for id, env := range protected {
		password, ok := passwords[id]
		if !ok {
			continue
		}
		blob, err := DecryptWithPassword(password, env)
		if err != nil {
			return nil, fmt.Errorf("open protected data for %q: %w", id, err)
		}
		var part map[string]any
		if err := json.Unmarshal(blob, &part); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, fmt.Sprintf("decode protected data for %q", id), err)
		}
		for k, v := range part {
			result[k] = v
		}
		found = true
	}
	if !found {
		return nil, insecaerr.New(insecaerr.KindWrongPassphrase, "no matching decryptor provided")
	}
	return result, nil
}

// ResolveReferences applies "@partition-id/field" protected-data entries
// onto the matching partition's verif dict, per Device.py's
// get_partitions_layout handling of keys like "@data/password" that
// translate into partitions[...]["password"] = value.
func ResolveReferences(protected map[string]any, partitions []map[string]any) error {
	for key, value := range protected {
		if len(key) == 0 || key[0] != '@' {
			continue
		}
		parts := strings.SplitN(key[1:], "/", 2)
		if len(parts) != 2 {
			return insecaerr.New(insecaerr.KindMetadataCorrupt, fmt.Sprintf("invalid protected reference %q", key))
		}
		partitionID, field := parts[0], parts[1]
		matched := false
		for _, part := range partitions {
			if id, ok := part["id"].(string); ok && id == partitionID {
				part[field] = value
				matched = true
			}
		}
		if !matched {
			return insecaerr.New(insecaerr.KindMissingReference, fmt.Sprintf("reference %q names unknown partition %q", key, partitionID))
		}
	}
	return nil
}

// SigRecord holds the signatures attached to a MetaRecord, one per
// signer ID, mirroring AppendedData.SecurityData / Device.py's
// get_signature_ids.
type SigRecord struct {
	Signatures map[string]string `json:"signatures"`
}

// SignRecord computes a signer's HMAC-SHA256 signature over m's
// canonical encoding.
func SignRecord(m *MetaRecord, signerID, password string) (string, error) {
	digest, err := EncodeMetaRecord(m)
	if err != nil {
		return "", err
	}
	return HMACSign(password, digest), nil
}

// VerifyRecordSignature checks a signature produced by SignRecord.
func VerifyRecordSignature(m *MetaRecord, password, signature string) error {
	digest, err := EncodeMetaRecord(m)
	if err != nil {
		return err
	}
	return HMACVerify(password, digest, signature)
}
