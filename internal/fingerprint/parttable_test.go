package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func makeFakeDevice(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "device.img")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHashPartitionTable_MBRIgnoresRestOfDevice(t *testing.T) {
	path := makeFakeDevice(t, 64*sectorSize)
	h1, err := HashPartitionTable(path, TableMBR)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xff}, 10*sectorSize); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h2, err := HashPartitionTable(path, TableMBR)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("MBR hash should be insensitive to bytes beyond the boot sector")
	}
}

func TestHashPartitionTable_GPTCoversExtraRange(t *testing.T) {
	path := makeFakeDevice(t, 64*sectorSize)
	h1, err := HashPartitionTable(path, TableGPT)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xff}, 10*sectorSize); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h2, err := HashPartitionTable(path, TableGPT)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("GPT hash should cover the partition array, and so change")
	}
}

func TestHashPartitionTable_BootSectorChangeAlwaysDetected(t *testing.T) {
	path := makeFakeDevice(t, 64*sectorSize)
	h1, err := HashPartitionTable(path, TableMBR)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xaa}, 100); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h2, err := HashPartitionTable(path, TableMBR)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("boot-code change should always be detected")
	}
}
