// Package bootproc implements the boot-time unlock chain for a
// provisioned device, grounded on original_source/lib/Live.py's
// BootProcessWKS. It verifies the device's integrity fingerprint and
// derives the passwords protecting the internal and data partitions from
// a single user password, without shelling out to a Python runtime.
package bootproc

import (
	"encoding/json"
	"fmt"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/metadata"
)

// UserSlot is one entry of resources/blob0.json: a per-user encrypted
// copy of blob0, keyed by the user's UUID.
type UserSlot struct {
	UUID    string `json:"-"`
	CN      string `json:"cn"`
	EncBlob string `json:"enc-blob"`
	Salt    string `json:"salt,omitempty"`
}

// ParseBlob0File decodes resources/blob0.json into its per-user slots,
// keyed by user UUID.
func ParseBlob0File(raw []byte) (map[string]*UserSlot, error) {
	var entries map[string]UserSlot
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "parse blob0.json", err)
	}
	slots := make(map[string]*UserSlot, len(entries))
	for uuid, e := range entries {
		slot := e
		slot.UUID = uuid
		slots[uuid] = &slot
	}
	return slots, nil
}

// UnlockBlob0 tries the user's password against every slot in blobs,
// returning the decrypted blob0 string and the matching slot. Unlike the
// original's harden_password_for_blob0 indirection -- an externally
// managed salt folded into the password before a second, internally
// salted PBKDF2 derivation, kept only to stay compatible with
// unsalted blobs created before that scheme existed -- this envelope
// already manages its own salt, so every slot is decrypted directly with
// the user's password; no legacy fallback path is needed.
func UnlockBlob0(userPassword string, blobs map[string]*UserSlot) (blob0 string, slot *UserSlot, err error) {
	for _, s := range blobs {
		plain, decErr := metadata.DecryptWithPassword(userPassword, s.EncBlob)
		if decErr != nil {
			continue
		}
		return string(plain), s, nil
	}
	return "", nil, insecaerr.New(insecaerr.KindWrongPassphrase, "invalid password")
}

// UnlockBlob1 uses blob0 (itself a password) to decrypt the PEM-encoded
// RSA private key stored at resources/blob1.priv.enc.
func UnlockBlob1(blob0 string, encBlob1 string) ([]byte, error) {
	plain, err := metadata.DecryptWithPassword(blob0, encBlob1)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindEncryptionError, "could not decrypt blob1", err)
	}
	return plain, nil
}

// AddUserSlot encrypts a fresh copy of blob0 under a new user's password
// and returns the slot to store under that user's UUID in blob0.json.
func AddUserSlot(userUUID, cn, userPassword, blob0 string) (*UserSlot, error) {
	enc, err := metadata.EncryptWithPassword(userPassword, []byte(blob0))
	if err != nil {
		return nil, fmt.Errorf("seal blob0 for new user slot: %w", err)
	}
	return &UserSlot{UUID: userUUID, CN: cn, EncBlob: enc}, nil
}

// RemoveUserSlot deletes a user's slot from the in-memory blob0.json map.
// It refuses to remove the last remaining slot, since that would make the
// device permanently unrecoverable.
func RemoveUserSlot(blobs map[string]*UserSlot, userUUID string) error {
	if _, ok := blobs[userUUID]; !ok {
		return insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("no such user slot %q", userUUID))
	}
	if len(blobs) == 1 {
		return insecaerr.New(insecaerr.KindInvalidConfig, "cannot remove the last user slot")
	}
	delete(blobs, userUUID)
	return nil
}

// ChangeUserSlotPassword re-encrypts a user's slot with a new password,
// leaving blob0 itself -- and therefore every partition it protects --
// unchanged.
func ChangeUserSlotPassword(blobs map[string]*UserSlot, userUUID, oldPassword, newPassword string) error {
	slot, ok := blobs[userUUID]
	if !ok {
		return insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("no such user slot %q", userUUID))
	}
	plain, err := metadata.DecryptWithPassword(oldPassword, slot.EncBlob)
	if err != nil {
		return err
	}
	enc, err := metadata.EncryptWithPassword(newPassword, plain)
	if err != nil {
		return fmt.Errorf("reseal blob0 with new password: %w", err)
	}
	slot.EncBlob = enc
	slot.Salt = ""
	return nil
}

// EncodeBlob0File serializes the slot map back to JSON for writing to
// resources/blob0.json.
func EncodeBlob0File(blobs map[string]*UserSlot) ([]byte, error) {
	out := make(map[string]UserSlot, len(blobs))
	for uuid, s := range blobs {
		out[uuid] = *s
	}
	return json.Marshal(out)
}
