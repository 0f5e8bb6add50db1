package blockdev

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// HardwareID is the device-identifying data recorded unencrypted on a
// device during provisioning, per original_source AppendedData.py's
// "hw-id" dictionary.
type HardwareID struct {
	Model     string
	Serial    string
	SizeBytes int64
}

// ReadHardwareID reads the model, serial and size of the underlying
// device via lsblk/udevadm, tolerating the absence of a serial number
// (common for loop/NBD-backed devices).
func ReadHardwareID(devfile string) (*HardwareID, error) {
	out, err := shell.ExecCmd(fmt.Sprintf("lsblk -n -d -b -o MODEL,SERIAL,SIZE %s", devfile), true, "", nil)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindDeviceUnsupported, fmt.Sprintf("read hardware id of %s", devfile), err)
	}
	fields := strings.Fields(strings.TrimSpace(out))
	id := &HardwareID{}
	if len(fields) >= 1 {
		id.Model = fields[0]
	}
	if len(fields) >= 2 {
		id.Serial = fields[1]
	}
	if len(fields) >= 3 {
		if size, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			id.SizeBytes = size
		}
	}
	return id, nil
}

// ComputeInterPartitionHash hashes the bytes lying between the partition
// table and each partition, and between partitions, chaining them in
// partition order. It mirrors Device.py's compute_inter_partitions_hash:
// the purpose is to detect any data hidden in the gaps a normal tool would
// never touch.
func ComputeInterPartitionHash(devfile string, layout *Layout) (string, []fingerprint.LogEntry, error) {
	startSector := int64(1)
	if layout.Label == LabelGPT || layout.Label == LabelHybrid {
		startSector = 34
	}

	running := "Let's not start at zero!"
	var log []fingerprint.LogEntry
	for _, part := range layout.Partitions {
		endSector := part.SectorStart // exclusive: the range stops at the partition's first sector
		h, err := fingerprint.HashFileRange(devfile, startSector*layout.SectorSize, endSector*layout.SectorSize)
		if err != nil {
			return "", nil, fmt.Errorf("hash inter-partition range before partition %d: %w", part.Number, err)
		}
		running = fingerprint.ChainHash(running, h)
		log = append(log, fingerprint.LogEntry{Name: fmt.Sprintf("<partition-%d", part.Number), Checkpoint: running[:5]})
		startSector = part.SectorEnd + 1
	}
	return running, log, nil
}
