package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
)

// maxHole bounds the gap between two sampled chunks in a file (768 KiB),
// ported from FingerprintChunks.py's max_hole.
const maxHole = 768 * 1024

// Segment is a [offset, length) byte range sampled from a file.
type Segment struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// FileChunks is one file's sampled chunks plus the running-hash checkpoint
// recorded when it was produced.
type FileChunks struct {
	Name  string    `json:"name"`            // path relative to the sampled root
	Size  int64     `json:"size"`
	Chunks []Segment `json:"chunks,omitempty"` // nil for symlinks and empty files
	Link   string    `json:"checkpoint"`       // 5-hex-digit running checkpoint
}

// ChunkMap is the full set of sampled chunks for a directory tree, as
// produced by ComputeFilesViaChunks and consumed by VerifyFilesViaChunks.
type ChunkMap []FileChunks

// LogEntry is one tagged checkpoint appended to the integrity log.
type LogEntry struct {
	Name       string `json:"name"`
	Checkpoint string `json:"checkpoint"`
}

func generateRandomChunks(totalSize int64, maxChunk, minChunk, minSep, maxSep int64, startAfter int64) []Segment {
	var segments []Segment
	index := startAfter
	for index < totalSize {
		pos := index
		if index != startAfter {
			pos = index + minSep + rand.Int63n(maxSep-minSep+1)
		}
		if pos > totalSize {
			break
		}
		length := minChunk + rand.Int63n(maxChunk-minChunk+1)
		if pos+length > totalSize {
			length = totalSize - pos
		}
		segments = append(segments, Segment{Offset: pos, Length: length})
		index = pos + length
	}
	return segments
}

func generateFileChunks(size int64) []Segment {
	return generateRandomChunks(size, 2048, 1024, maxHole*2/3, maxHole, 0)
}

func computeChunkHash(path string, chunks []Segment) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 2048)
	for _, c := range chunks {
		if _, err := f.Seek(c.Offset, 0); err != nil {
			return "", fmt.Errorf("seek %s: %w", path, err)
		}
		n, err := io_ReadFull(f, buf[:c.Length])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		h.Write(buf[:n])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// io_ReadFull reads exactly len(buf) bytes unless EOF is hit first, in
// which case it returns what it got (mirrors Python's f.read(n) semantics
// near EOF, which this code never relies on beyond the final chunk).
func io_ReadFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func walkSortedFiles(root string) ([]string, error) {
	var rel []string
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", root, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	for _, name := range names {
		full := filepath.Join(root, name)
		fi, err := os.Lstat(full)
		if err != nil {
			return nil, fmt.Errorf("lstat %s: %w", full, err)
		}
		if fi.IsDir() {
			sub, err := walkSortedFiles(full)
			if err != nil {
				return nil, err
			}
			for _, s := range sub {
				rel = append(rel, filepath.Join(name, s))
			}
			continue
		}
		rel = append(rel, name)
	}
	return rel, nil
}

// ComputeFilesViaChunks samples each file under path (sorted walk) with a
// deterministic-but-random set of 1-2 KiB chunks separated by gaps up to
// 768 KiB, hashes only those chunks, and folds the file's path and chunk
// hash into a running SHA-256. Returns the chunk map (for later
// verification), the final hash, and a per-file checkpoint log.
func ComputeFilesViaChunks(root string, excluded map[string]bool) (ChunkMap, string, []LogEntry, error) {
	names, err := walkSortedFiles(root)
	if err != nil {
		return nil, "", nil, err
	}

	var result ChunkMap
	var log []LogEntry
	h := sha256.New()
	for _, rel := range names {
		if excluded[rel] {
			continue
		}
		full := filepath.Join(root, rel)
		fi, err := os.Lstat(full)
		if err != nil {
			return nil, "", nil, fmt.Errorf("lstat %s: %w", full, err)
		}

		var fileHash string
		var chunks []Segment
		var size int64
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return nil, "", nil, fmt.Errorf("readlink %s: %w", full, err)
			}
			sh := sha256.Sum256([]byte(target))
			fileHash = hex.EncodeToString(sh[:])
		} else {
			size = fi.Size()
			chunks = generateFileChunks(size)
			fileHash, err = computeChunkHash(full, chunks)
			if err != nil {
				return nil, "", nil, err
			}
		}

		fmt.Fprintf(h, "%s/%s/", rel, fileHash)
		checkpoint := hex.EncodeToString(h.Sum(nil))[:5]
		result = append(result, FileChunks{Name: rel, Size: size, Chunks: chunks, Link: checkpoint})
		log = append(log, LogEntry{Name: rel, Checkpoint: checkpoint})
	}
	return result, hex.EncodeToString(h.Sum(nil)), log, nil
}

// VerifyFilesViaChunks reproduces the running hash recorded by
// ComputeFilesViaChunks against the current tree at root. It fails if any
// listed file is missing, any file size changed, any symlink target
// changed, or any file present on disk is absent from chunks.
func VerifyFilesViaChunks(root string, chunks ChunkMap, excluded map[string]bool) (string, []LogEntry, error) {
	handled := make(map[string]bool, len(chunks))
	var log []LogEntry
	h := sha256.New()

	for _, entry := range chunks {
		handled[entry.Name] = true
		if excluded[entry.Name] {
			continue
		}
		full := filepath.Join(root, entry.Name)

		fi, err := os.Lstat(full)
		if err != nil {
			return "", nil, fmt.Errorf("file %q not found: %w", entry.Name, err)
		}

		var fileHash string
		if fi.Mode()&os.ModeSymlink != 0 {
			if entry.Chunks != nil {
				return "", nil, fmt.Errorf("%q is now a symlink", entry.Name)
			}
			target, err := os.Readlink(full)
			if err != nil {
				return "", nil, fmt.Errorf("readlink %s: %w", full, err)
			}
			sh := sha256.Sum256([]byte(target))
			fileHash = hex.EncodeToString(sh[:])
		} else {
			if fi.Size() != entry.Size {
				return "", nil, fmt.Errorf("size of file %q changed from %d to %d", entry.Name, entry.Size, fi.Size())
			}
			if entry.Chunks == nil && entry.Size > 0 {
				return "", nil, fmt.Errorf("%q should be a symlink", entry.Name)
			}
			fileHash, err = computeChunkHash(full, entry.Chunks)
			if err != nil {
				return "", nil, err
			}
		}

		fmt.Fprintf(h, "%s/%s/", entry.Name, fileHash)
		checkpoint := hex.EncodeToString(h.Sum(nil))[:5]
		log = append(log, LogEntry{Name: entry.Name, Checkpoint: checkpoint})
		if checkpoint != entry.Link {
			return "", nil, fmt.Errorf("file %q has been modified", entry.Name)
		}
	}

	allFiles, err := walkSortedFiles(root)
	if err != nil {
		return "", nil, err
	}
	for _, name := range allFiles {
		if !handled[name] && !excluded[name] {
			return "", nil, fmt.Errorf("file %q has been added", name)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), log, nil
}
