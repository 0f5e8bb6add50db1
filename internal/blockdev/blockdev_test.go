package blockdev

import "testing"

func TestValidDevicePattern(t *testing.T) {
	cases := map[string]bool{
		"/dev/sdb":    true,
		"/dev/sdb1":   false,
		"/dev/vda":    true,
		"/dev/nbd0":   true,
		"/dev/nvme0n1": true,
		"/dev/loop3":  true,
		"/tmp/image.img": false,
	}
	for path, want := range cases {
		if got := validDevicePattern(path); got != want {
			t.Errorf("validDevicePattern(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestPartitionName(t *testing.T) {
	cases := []struct {
		devfile string
		number  int
		want    string
	}{
		{"/dev/sdb", 2, "/dev/sdb2"},
		{"/dev/nbd0", 3, "/dev/nbd0p3"},
		{"/dev/loop5", 1, "/dev/loop5p1"},
	}
	for _, c := range cases {
		if got := PartitionName(c.devfile, c.number); got != c.want {
			t.Errorf("PartitionName(%q, %d) = %q, want %q", c.devfile, c.number, got, c.want)
		}
	}
}

func TestTypeCodeFor(t *testing.T) {
	if code, ok := typeCodeFor(LabelGPT, PartitionEFI); !ok || code != "ef00" {
		t.Fatalf("expected ef00 for GPT EFI partition, got %q ok=%v", code, ok)
	}
	if _, ok := typeCodeFor(LabelDOS, PartitionEFI); ok {
		t.Fatal("DOS tables have no EFI type code")
	}
	if code, ok := typeCodeFor(LabelDOS, PartitionLinux); !ok || code != "83" {
		t.Fatalf("expected 83 for DOS linux partition, got %q ok=%v", code, ok)
	}
}
