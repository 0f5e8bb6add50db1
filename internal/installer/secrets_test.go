package installer

import "testing"

func TestGenerateSecretLengthAndUniqueness(t *testing.T) {
	a, err := generateSecret(32)
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateSecret(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 { // hex-encoded
		t.Fatalf("got length %d", len(a))
	}
	if a == b {
		t.Fatal("expected two independently generated secrets to differ")
	}
}

func TestRandomFileNameIsHexOf16Bytes(t *testing.T) {
	name, err := randomFileName()
	if err != nil {
		t.Fatal(err)
	}
	if len(name) != 32 {
		t.Fatalf("got length %d", len(name))
	}
}

func TestSha256HexIsDeterministic(t *testing.T) {
	a := sha256Hex([]byte("some data"))
	b := sha256Hex([]byte("some data"))
	if a != b {
		t.Fatal("expected deterministic digest")
	}
	if sha256Hex([]byte("other data")) == a {
		t.Fatal("expected different input to produce a different digest")
	}
}
