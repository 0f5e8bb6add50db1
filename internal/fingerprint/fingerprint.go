package fingerprint

import (
	"os"
	"path/filepath"
)

// Inputs bundles the six values chained into a device's integrity
// fingerprint, per spec §4.4. Several of these are produced by other
// components (the block-device layer's inter-partition hash, the
// caller's hash of the key-2 private material) and are passed in rather
// than recomputed here.
type Inputs struct {
	InterPartitionHash string    // from blockdev, hash of the unpartitioned gaps between partitions
	Key2PrivateHash    string    // SHA-256 of blob1's private key (key-2), hashed by the caller
	DevicePath         string    // raw block device, for the partition-table hash
	TableKind          TableKind
	DummyPartitionDir  string // mountpoint of the dummy/decoy partition
	EFIPartitionDir     string // mountpoint of the EFI system partition
	BootParamsSlots    []string // relative paths tolerated as "bootparams0"/"bootparams1" that may legitimately differ between boots
	LivePartitionDir   string   // mountpoint of the live read-only partition
	LiveChunks          ChunkMap // previously recorded chunk map for the live partition, nil to generate fresh
}

// Result is the outcome of computing or verifying an integrity fingerprint:
// the final 64-hex-digit hash plus the checkpoint log and, when chunks were
// freshly generated (provisioning time), the chunk map to persist for later
// verification.
type Result struct {
	Fingerprint string
	Checkpoints []LogEntry
	LiveChunks  ChunkMap
}

func bootParamsIgnore(slots []string) IgnoreFunc {
	allowed := make(map[string]bool, len(slots))
	for _, s := range slots {
		allowed[s] = true
	}
	return func(root, relative string) bool {
		return allowed[relative]
	}
}

// ComputeIntegrityFingerprint chains the six inputs of spec §4.4 in order:
// inter-partition hash, key-2 private material, partition-table hash,
// dummy-partition directory hash (skipping resources/internal-pass.enc and
// resources/blob0.json while each is under 64 KiB, since both are
// rewritten after sealing), EFI-partition directory hash (tolerating
// the active bootparams slot), and the live partition's chunk-verified
// hash. Each step folds into the running hash via ChainHash. When
// in.LiveChunks is nil a fresh chunk map is sampled (provisioning); when it
// is non-nil the live partition is verified against it (boot-time check).
func ComputeIntegrityFingerprint(in Inputs) (*Result, error) {
	var checkpoints []LogEntry
	note := func(name, value string) {
		checkpoints = append(checkpoints, LogEntry{Name: name, Checkpoint: value[:5]})
	}

	running := in.InterPartitionHash
	note("inter-partition", running)

	running = ChainHash(running, in.Key2PrivateHash)
	note("key2-private", running)

	tableHash, err := HashPartitionTable(in.DevicePath, in.TableKind)
	if err != nil {
		return nil, err
	}
	running = ChainHash(running, tableHash)
	note("partition-table", running)

	dummyHash, err := HashDirectory(in.DummyPartitionDir, func(root, relative string) bool {
		if relative != "resources/internal-pass.enc" && relative != "resources/blob0.json" {
			return false
		}
		fi, err := os.Stat(filepath.Join(root, relative))
		return err == nil && fi.Size() < 64*1024
	})
	if err != nil {
		return nil, err
	}
	running = ChainHash(running, dummyHash)
	note("dummy-partition", running)

	efiHash, err := HashDirectory(in.EFIPartitionDir, bootParamsIgnore(in.BootParamsSlots))
	if err != nil {
		return nil, err
	}
	running = ChainHash(running, efiHash)
	note("efi-partition", running)

	var liveHash string
	var liveChunks ChunkMap
	if in.LiveChunks == nil {
		var log []LogEntry
		liveChunks, liveHash, log, err = ComputeFilesViaChunks(in.LivePartitionDir, nil)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, log...)
	} else {
		var log []LogEntry
		liveHash, log, err = VerifyFilesViaChunks(in.LivePartitionDir, in.LiveChunks, nil)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, log...)
		liveChunks = in.LiveChunks
	}
	running = ChainHash(running, liveHash)
	note("live-partition", running)

	return &Result{Fingerprint: running, Checkpoints: checkpoints, LiveChunks: liveChunks}, nil
}

// relPath is a small helper kept for callers building BootParamsSlots from
// absolute paths under the EFI mountpoint.
func relPath(root, full string) (string, error) {
	return filepath.Rel(root, full)
}
