package installer

import (
	"path/filepath"
	"testing"
)

func TestCreateVMImageRejectsInvalidSize(t *testing.T) {
	imagefile := filepath.Join(t.TempDir(), "disk.qcow2")
	if _, err := CreateVMImage(imagefile, 0); err == nil {
		t.Fatal("expected error for non-positive size")
	}
	if _, err := CreateVMImage(imagefile, -5); err == nil {
		t.Fatal("expected error for negative size")
	}
}
