package security

import "testing"

func TestValidateString_Basics(t *testing.T) {
	lim := DefaultLimits()
	if err := ValidateString("ok", "hello", lim); err != nil {
		t.Fatal(err)
	}
	if err := ValidateString("nul", "a\x00b", lim); err == nil {
		t.Fatal("expected NUL reject")
	}
	if err := ValidateString("nonprint", "a\u0007b", lim); err == nil {
		t.Fatal("expected control char reject")
	}
	if err := ValidateString("badutf8", string([]byte{0xff, 0xfe, 0xfd}), lim); err == nil {
		t.Fatal("expected invalid UTF-8 reject")
	}
}

func TestValidatePassword_Entropy(t *testing.T) {
	if err := ValidatePassword("short", 75); err == nil {
		t.Fatal("expected weak password to be rejected")
	}
	if err := ValidatePassword("Correct-horse-battery-42!", 75); err != nil {
		t.Fatalf("expected strong password to pass: %v", err)
	}
	if err := ValidatePassword("café123456789", 10); err == nil {
		t.Fatal("expected non-VeraCrypt character to be rejected")
	}
}

func TestPasswordEntropyBits_Empty(t *testing.T) {
	if got := PasswordEntropyBits(""); got != 0 {
		t.Fatalf("expected 0 entropy for empty password, got %v", got)
	}
}
