package bootproc

import (
	"testing"

	"github.com/insecakey/inseca/internal/insecaerr"
)

func TestUnlockBlob0RoundTrip(t *testing.T) {
	blob0 := "secret-blob0-material"
	slot, err := AddUserSlot("user-1", "Alice", "correct horse", blob0)
	if err != nil {
		t.Fatal(err)
	}
	blobs := map[string]*UserSlot{"user-1": slot}

	got, matched, err := UnlockBlob0("correct horse", blobs)
	if err != nil {
		t.Fatal(err)
	}
	if got != blob0 {
		t.Fatalf("got %q, want %q", got, blob0)
	}
	if matched.CN != "Alice" {
		t.Fatalf("got cn %q", matched.CN)
	}
}

func TestUnlockBlob0WrongPassword(t *testing.T) {
	slot, err := AddUserSlot("user-1", "Alice", "correct horse", "blob0")
	if err != nil {
		t.Fatal(err)
	}
	blobs := map[string]*UserSlot{"user-1": slot}

	_, _, err = UnlockBlob0("wrong", blobs)
	if insecaerr.KindOf(err) != insecaerr.KindWrongPassphrase {
		t.Fatalf("got %v, want KindWrongPassphrase", err)
	}
}

func TestUnlockBlob0MultipleSlots(t *testing.T) {
	blob0 := "shared-secret"
	s1, _ := AddUserSlot("user-1", "Alice", "pw1", blob0)
	s2, _ := AddUserSlot("user-2", "Bob", "pw2", blob0)
	blobs := map[string]*UserSlot{"user-1": s1, "user-2": s2}

	got, matched, err := UnlockBlob0("pw2", blobs)
	if err != nil {
		t.Fatal(err)
	}
	if got != blob0 || matched.CN != "Bob" {
		t.Fatalf("got (%q, %q)", got, matched.CN)
	}
}

func TestChangeUserSlotPassword(t *testing.T) {
	blob0 := "blob0-data"
	slot, _ := AddUserSlot("user-1", "Alice", "oldpw", blob0)
	blobs := map[string]*UserSlot{"user-1": slot}

	if err := ChangeUserSlotPassword(blobs, "user-1", "oldpw", "newpw"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := UnlockBlob0("oldpw", blobs); err == nil {
		t.Fatal("expected old password to no longer unlock the slot")
	}
	got, _, err := UnlockBlob0("newpw", blobs)
	if err != nil {
		t.Fatal(err)
	}
	if got != blob0 {
		t.Fatalf("got %q, want %q", got, blob0)
	}
}

func TestRemoveUserSlotRefusesLastSlot(t *testing.T) {
	slot, _ := AddUserSlot("user-1", "Alice", "pw", "blob0")
	blobs := map[string]*UserSlot{"user-1": slot}

	if err := RemoveUserSlot(blobs, "user-1"); insecaerr.KindOf(err) != insecaerr.KindInvalidConfig {
		t.Fatalf("got %v, want KindInvalidConfig", err)
	}
}

func TestRemoveUserSlot(t *testing.T) {
	blob0 := "blob0"
	s1, _ := AddUserSlot("user-1", "Alice", "pw1", blob0)
	s2, _ := AddUserSlot("user-2", "Bob", "pw2", blob0)
	blobs := map[string]*UserSlot{"user-1": s1, "user-2": s2}

	if err := RemoveUserSlot(blobs, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := blobs["user-1"]; ok {
		t.Fatal("expected user-1 slot to be gone")
	}
}

func TestBlob0FileRoundTrip(t *testing.T) {
	blob0 := "blob0"
	slot, _ := AddUserSlot("user-1", "Alice", "pw", blob0)
	blobs := map[string]*UserSlot{"user-1": slot}

	raw, err := EncodeBlob0File(blobs)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseBlob0File(raw)
	if err != nil {
		t.Fatal(err)
	}
	got, matched, err := UnlockBlob0("pw", parsed)
	if err != nil {
		t.Fatal(err)
	}
	if got != blob0 || matched.CN != "Alice" {
		t.Fatalf("got (%q, %q)", got, matched.CN)
	}
}
