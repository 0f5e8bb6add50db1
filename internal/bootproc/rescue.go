package bootproc

// RescueUUID is the fixed user-slot key reserved for the rescue password
// generated at install time (install-configuration's "password-rescue"
// field, per original_source/lib/Configurations.py's InstallConfig). It
// lets an administrator unlock a device when every end-user password has
// been lost, without needing its own separate unlock path.
const RescueUUID = "rescue"

// AddRescueSlot wires a rescue password into blob0.json the same way any
// other user slot is added: the rescue password becomes a second key that
// decrypts the same blob0, so it unlocks every partition a normal user
// password would.
func AddRescueSlot(blobs map[string]*UserSlot, rescuePassword, blob0 string) error {
	slot, err := AddUserSlot(RescueUUID, "Rescue", rescuePassword, blob0)
	if err != nil {
		return err
	}
	blobs[RescueUUID] = slot
	return nil
}

// IsRescueSlot reports whether the slot returned by UnlockBlob0 was the
// rescue slot rather than an ordinary user.
func IsRescueSlot(slot *UserSlot) bool {
	return slot != nil && slot.UUID == RescueUUID
}
