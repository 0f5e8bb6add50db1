package blockdev

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/metadata"
)

// appendMagic tags the reserved trailing region so ReadMetaRecord can tell
// a sealed device from a freshly-wiped one, mirroring AppendedData's role
// in Device.py's seal_metadata/_load_meta_data -- this exact wire format
// has no original_source/ counterpart (append.py is absent from the
// retrieval pack), so the 8-byte magic + two big-endian length prefixes
// here are our own design, not a port.
var appendMagic = [8]byte{'I', 'N', 'S', 'E', 'C', 'A', 'M', '1'}

// appendReserveBytes is the size of the trailing region CreatePartitionTable
// must leave unpartitioned at the end of the device for WriteMetaRecord to
// use, mirroring Device.py reserving space past the last partition for
// append.MetaData/append.SecurityData.
const appendReserveBytes = 1 << 20 // 1 MiB

// WriteMetaRecord seals meta and sig onto devfile's trailing reserved
// region: magic, then meta's length and bytes, then sig's length and
// bytes, mirroring the two separate write_to_device calls Device.py makes
// for append.MetaData and append.SecurityData, combined into one region
// here since both are always written and read together.
func WriteMetaRecord(devfile string, meta *metadata.MetaRecord, sig *metadata.SigRecord) error {
	metaBytes, err := metadata.EncodeMetaRecord(meta)
	if err != nil {
		return err
	}
	sigBytes, err := encodeSigRecord(sig)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(appendMagic)+8+len(metaBytes)+8+len(sigBytes))
	buf = append(buf, appendMagic[:]...)
	buf = appendLenPrefixed(buf, metaBytes)
	buf = appendLenPrefixed(buf, sigBytes)
	if len(buf) > appendReserveBytes {
		return insecaerr.New(insecaerr.KindMetadataCorrupt, fmt.Sprintf("sealed metadata (%d bytes) exceeds reserved region (%d bytes)", len(buf), appendReserveBytes))
	}

	offset, err := trailingRegionOffset(devfile)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(devfile, os.O_WRONLY, 0)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("open %s for metadata write", devfile), err)
	}
	defer f.Close()

	if _, err := f.WriteAt(buf, offset); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "write sealed metadata", err)
	}
	return nil
}

// ReadMetaRecord reads back the record sealed by WriteMetaRecord, mirroring
// Device.py's _load_meta_data constructing append.MetaData(devfile) with no
// specs/layout and calling read_from_device().
func ReadMetaRecord(devfile string) (*metadata.MetaRecord, *metadata.SigRecord, error) {
	offset, err := trailingRegionOffset(devfile)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(devfile)
	if err != nil {
		return nil, nil, insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("open %s for metadata read", devfile), err)
	}
	defer f.Close()

	region := make([]byte, appendReserveBytes)
	if _, err := f.ReadAt(region, offset); err != nil {
		return nil, nil, insecaerr.Wrap(insecaerr.KindFilesystemError, "read sealed metadata region", err)
	}

	if !hasMagic(region) {
		return nil, nil, insecaerr.New(insecaerr.KindMetadataCorrupt, "device carries no sealed metadata")
	}
	cursor := len(appendMagic)

	metaBytes, cursor, err := readLenPrefixed(region, cursor)
	if err != nil {
		return nil, nil, err
	}
	sigBytes, _, err := readLenPrefixed(region, cursor)
	if err != nil {
		return nil, nil, err
	}

	meta, err := metadata.DecodeMetaRecord(metaBytes)
	if err != nil {
		return nil, nil, err
	}
	sig, err := decodeSigRecord(sigBytes)
	if err != nil {
		return nil, nil, err
	}
	return meta, sig, nil
}

// trailingRegionOffset locates the start of the reserved region left past
// the last partition by CreatePartitionTable: the device's total size minus
// appendReserveBytes.
func trailingRegionOffset(devfile string) (int64, error) {
	f, err := os.Open(devfile)
	if err != nil {
		return 0, insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("open %s", devfile), err)
	}
	defer f.Close()
	size, err := deviceSize(f)
	if err != nil {
		return 0, err
	}
	if size < appendReserveBytes {
		return 0, insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("device too small (%d bytes) to hold reserved metadata region", size))
	}
	return size - appendReserveBytes, nil
}

func deviceSize(f *os.File) (int64, error) {
	if fi, err := f.Stat(); err == nil && fi.Size() > 0 {
		return fi.Size(), nil
	}
	// block devices report a zero regular size via Stat; seek to the end instead.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, insecaerr.Wrap(insecaerr.KindFilesystemError, "determine device size", err)
	}
	return size, nil
}

func appendLenPrefixed(buf, payload []byte) []byte {
	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], uint64(len(payload)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, payload...)
}

func readLenPrefixed(region []byte, cursor int) ([]byte, int, error) {
	if cursor+8 > len(region) {
		return nil, 0, insecaerr.New(insecaerr.KindMetadataCorrupt, "truncated metadata length prefix")
	}
	n := binary.BigEndian.Uint64(region[cursor : cursor+8])
	cursor += 8
	if n > uint64(len(region)-cursor) {
		return nil, 0, insecaerr.New(insecaerr.KindMetadataCorrupt, "metadata length prefix exceeds reserved region")
	}
	payload := region[cursor : cursor+int(n)]
	return payload, cursor + int(n), nil
}

func hasMagic(region []byte) bool {
	if len(region) < len(appendMagic) {
		return false
	}
	for i, b := range appendMagic {
		if region[i] != b {
			return false
		}
	}
	return true
}

func encodeSigRecord(s *metadata.SigRecord) ([]byte, error) {
	return metadata.CanonicalJSON(s)
}

func decodeSigRecord(data []byte) (*metadata.SigRecord, error) {
	var s metadata.SigRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "parse signature record", err)
	}
	return &s, nil
}
