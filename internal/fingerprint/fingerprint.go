// Package fingerprint detects external file edits cheaply. Content digests
// are authoritative; modification times are only a fast pre-check, because
// mtime alone cannot be trusted across clock skew and copy operations.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/mkrall/momentum/internal/store"
)

// Change classifies a tracked path against its stored sync state.
type Change int

const (
	// Unchanged means the file content matches the last synced state.
	Unchanged Change = iota
	// ExternallyModified means the content digest differs from the last sync.
	ExternallyModified
	// Missing means the path no longer exists on disk.
	Missing
	// New means the path exists but has no sync state yet.
	New
)

func (c Change) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case ExternallyModified:
		return "externally_modified"
	case Missing:
		return "missing"
	case New:
		return "new"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// Fingerprint computes the SHA-256 content digest of data, hex encoded.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Result carries the classification plus the observed file facts so callers
// do not re-stat or re-hash.
type Result struct {
	Change Change
	Digest string    // "" when the file is missing
	Mtime  time.Time // zero when the file is missing
	Data   []byte    // nil when the file is missing or the mtime fast path hit
}

// Classify compares the file at path against its stored sync state.
//
// When the stored mtime matches the file exactly, hashing is skipped
// and the file is reported Unchanged with the stored digest. Any mismatch
// falls through to a full content hash, which is the only evidence trusted
// for ExternallyModified.
func Classify(path string, prior *store.SyncState) (*Result, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &Result{Change: Missing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if prior == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return &Result{
			Change: New,
			Digest: Fingerprint(data),
			Mtime:  info.ModTime().UTC(),
			Data:   data,
		}, nil
	}

	// mtime fast path: equal timestamp means skip hashing. Equality only;
	// a file restored from backup may be older than the recorded mtime and
	// still carry different content.
	if prior.FileHash != "" && info.ModTime().UTC().Equal(prior.LastSyncedMtime) {
		return &Result{
			Change: Unchanged,
			Digest: prior.FileHash,
			Mtime:  info.ModTime().UTC(),
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	digest := Fingerprint(data)

	if digest == prior.FileHash {
		return &Result{Change: Unchanged, Digest: digest, Mtime: info.ModTime().UTC(), Data: data}, nil
	}
	return &Result{Change: ExternallyModified, Digest: digest, Mtime: info.ModTime().UTC(), Data: data}, nil
}
