package reconciler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mkrall/momentum/internal/fingerprint"
	"github.com/mkrall/momentum/internal/store"
)

// ErrFingerprintRace means the file changed between classification and the
// attempted write. The write is aborted; the unit is reclassified next pass
// rather than overwriting based on stale information.
var ErrFingerprintRace = errors.New("file changed between classification and write")

// retryIO runs fn up to the configured attempt count with a short growing
// backoff. Used for transient failures (file locked, briefly unreadable).
func (r *Reconciler) retryIO(fn func() error) error {
	attempts := r.cfg.IORetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(50<<i) * time.Millisecond)
	}
	return err
}

// readFile reads path with bounded retries.
func (r *Reconciler) readFile(path string) ([]byte, error) {
	var data []byte
	err := r.retryIO(func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// writeFileChecked atomically replaces path with data, but only if the
// current on-disk content still matches expectDigest (pass "" to skip the
// check, e.g. when creating a new file). The write goes to a temporary file
// in the same directory followed by a rename, so a reader never observes a
// half-written header block. Returns the new file's modification time.
func (r *Reconciler) writeFileChecked(path, expectDigest string, data []byte) (time.Time, error) {
	if expectDigest != "" {
		cur, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return time.Time{}, ErrFingerprintRace
			}
			return time.Time{}, fmt.Errorf("recheck %s: %w", path, err)
		}
		if fingerprint.Fingerprint(cur) != expectDigest {
			return time.Time{}, ErrFingerprintRace
		}
	}

	var mtime time.Time
	err := r.retryIO(func() error {
		dir := filepath.Dir(path)
		tmp, err := os.CreateTemp(dir, ".momentum-*.tmp")
		if err != nil {
			return err
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return err
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return err
		}
		if err := os.Chmod(tmpName, 0644); err != nil {
			_ = os.Remove(tmpName)
			return err
		}
		if err := os.Rename(tmpName, path); err != nil {
			_ = os.Remove(tmpName)
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		mtime = info.ModTime().UTC()
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("write %s: %w", path, err)
	}
	return mtime, nil
}

// classify wraps fingerprint.Classify with bounded retries.
func (r *Reconciler) classify(path string, prior *store.SyncState) (*fingerprint.Result, error) {
	var res *fingerprint.Result
	err := r.retryIO(func() error {
		var err error
		res, err = fingerprint.Classify(path, prior)
		return err
	})
	return res, err
}
