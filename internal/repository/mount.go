package repository

import (
	"os"

	"github.com/insecakey/inseca/internal/insecaerr"
)

// Mount exposes an archive's content under mountpoint. No FUSE binding is
// wired into this module -- none of the retrieval pack's examples carry
// one -- so Mount always takes the extraction fallback described in
// SPEC_FULL.md's C9 section: materialize the archive into mountpoint directly,
// exactly the teacher's imageconvert format-detection-then-materialize
// pattern applied here to "mount" an archive. The returned Unmount
// function simply removes the extracted tree.
func (r *Repo) Mount(archiveID, mountpoint string) (unmount func() error, err error) {
	if err := os.MkdirAll(mountpoint, 0o700); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindRepositoryCorrupt, "create mountpoint", err)
	}
	if err := r.Extract(archiveID, mountpoint, nil); err != nil {
		return nil, err
	}
	return func() error {
		return os.RemoveAll(mountpoint)
	}, nil
}
