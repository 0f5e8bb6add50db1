package bootproc

import "testing"

func TestAddRescueSlotUnlocksSameBlob0(t *testing.T) {
	blob0 := "blob0-data"
	userSlot, _ := AddUserSlot("user-1", "Alice", "userpw", blob0)
	blobs := map[string]*UserSlot{"user-1": userSlot}

	if err := AddRescueSlot(blobs, "rescue-pw", blob0); err != nil {
		t.Fatal(err)
	}

	got, slot, err := UnlockBlob0("rescue-pw", blobs)
	if err != nil {
		t.Fatal(err)
	}
	if got != blob0 {
		t.Fatalf("got %q, want %q", got, blob0)
	}
	if !IsRescueSlot(slot) {
		t.Fatal("expected rescue slot to be identified as such")
	}
}
