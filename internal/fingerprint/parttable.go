package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// TableKind selects which raw byte ranges of the device participate in the
// partition-table hash: a plain MBR only covers the boot sector, while
// GPT/hybrid layouts also cover the protective MBR's primary GPT header and
// partition array.
type TableKind int

const (
	TableMBR TableKind = iota
	TableGPT
	TableHybrid
)

const sectorSize = 512

// HashPartitionTable hashes the raw on-disk bytes that describe a device's
// partition layout rather than any parsed representation of it, so the
// fingerprint is sensitive to any byte the firmware or an OS could alter:
// bytes [0,440) (boot code) and [444,512) (the four legacy MBR entries plus
// the signature) are always included; GPT and hybrid layouts additionally
// include the primary GPT header and partition array at [512, 34*512).
func HashPartitionTable(devicePath string, kind TableKind) (string, error) {
	f, err := os.Open(devicePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", devicePath, err)
	}
	defer f.Close()

	h := sha256.New()
	if err := hashByteRange(f, h, 0, 440); err != nil {
		return "", err
	}
	if err := hashByteRange(f, h, 444, sectorSize); err != nil {
		return "", err
	}
	if kind == TableGPT || kind == TableHybrid {
		if err := hashByteRange(f, h, sectorSize, 34*sectorSize); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashByteRange(f *os.File, h interface{ Write([]byte) (int, error) }, start, end int64) error {
	if _, err := f.Seek(start, 0); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	buf := make([]byte, end-start)
	n, err := io_ReadFull(f, buf)
	if err != nil {
		return fmt.Errorf("read [%d,%d): %w", start, end, err)
	}
	if _, err := h.Write(buf[:n]); err != nil {
		return err
	}
	return nil
}
