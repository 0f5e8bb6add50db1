package installer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/insecakey/inseca/internal/utils/shell"
)

type resourceEntry struct {
	data    []byte // set when the content is in memory
	srcPath string // set when the content should be copied from an existing file
	isDir   bool
	perm    os.FileMode // 0 means "leave unset" (FAT has no permission bits)
}

// ResourceSet stages files to be written across a device's partitions in
// one pass, the Go equivalent of _create_resources_map/
// _write_resources_from_map: nothing touches disk until Flush, so a
// failure while staging leaves the partitions untouched. Flush itself
// writes entry by entry and stops at the first error, keeping what it
// already wrote.
type ResourceSet struct {
	entries map[PartitionID]map[string]resourceEntry
}

// NewResourceSet creates an empty staging set for the five fixed
// partition roles, per _create_resources_map.
func NewResourceSet() *ResourceSet {
	return &ResourceSet{entries: map[PartitionID]map[string]resourceEntry{
		PartIDDummy:    {},
		PartIDEFI:      {},
		PartIDLive:     {},
		PartIDInternal: {},
		PartIDData:     {},
	}}
}

// AddBytes stages in-memory content at relpath under partID.
func (r *ResourceSet) AddBytes(partID PartitionID, relpath string, data []byte, perm os.FileMode) {
	r.entries[partID][relpath] = resourceEntry{data: data, perm: perm}
}

// AddFile stages a copy of an existing on-disk file at relpath under
// partID.
func (r *ResourceSet) AddFile(partID PartitionID, relpath, srcPath string, perm os.FileMode) {
	r.entries[partID][relpath] = resourceEntry{srcPath: srcPath, perm: perm}
}

// AddDir stages an (otherwise empty) directory at relpath under partID, so
// it gets created even with no files in it yet.
func (r *ResourceSet) AddDir(partID PartitionID, relpath string, perm os.FileMode) {
	r.entries[partID][relpath] = resourceEntry{isDir: true, perm: perm}
}

// Flush writes every staged entry to its partition's mountpoint and syncs,
// mirroring _write_resources_from_map's final os.sync().
func (r *ResourceSet) Flush(mountpoints map[PartitionID]string) error {
	log := logger.Logger()
	for partID, files := range r.entries {
		if len(files) == 0 {
			continue
		}
		mp, ok := mountpoints[partID]
		if !ok {
			return insecaerr.New(insecaerr.KindInvalidConfig, "no mountpoint supplied for partition "+string(partID))
		}
		for relpath, entry := range files {
			dest := filepath.Join(mp, relpath)
			log.Infof("Copying %q...", filepath.Base(relpath))
			if entry.isDir {
				if err := os.MkdirAll(dest, 0o755); err != nil {
					return insecaerr.Wrap(insecaerr.KindFilesystemError, "create directory "+dest, err)
				}
			} else {
				if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
					return insecaerr.Wrap(insecaerr.KindFilesystemError, "create directory "+filepath.Dir(dest), err)
				}
				if err := writeEntry(dest, entry); err != nil {
					return err
				}
			}
			if entry.perm != 0 {
				if err := os.Chmod(dest, entry.perm); err != nil {
					return insecaerr.Wrap(insecaerr.KindFilesystemError, "chmod "+dest, err)
				}
			}
		}
	}
	log.Info("Syncing all writes")
	_, err := shell.ExecCmd("sync", false, "", nil)
	return err
}

func writeEntry(dest string, entry resourceEntry) error {
	if entry.srcPath != "" {
		return copyFileContents(entry.srcPath, dest)
	}
	if err := os.WriteFile(dest, entry.data, 0o644); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "write "+dest, err)
	}
	return nil
}

func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "open "+src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create "+dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "copy "+src+" to "+dst, err)
	}
	return nil
}
