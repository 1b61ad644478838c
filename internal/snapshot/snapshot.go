// Package snapshot records git commits of the vault after sync passes
// that wrote files. Snapshots are a local safety net: the package never
// pushes, and a failed snapshot never fails the pass that triggered it.
package snapshot

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/mkrall/momentum/internal/reconciler"
)

// Vault wraps a go-git repository rooted at a vault directory.
type Vault struct {
	repo *git.Repository
	path string
}

// Open opens the git repository at vaultPath. The vault must already be a
// repository; Open never runs git init on a directory the user owns.
func Open(vaultPath string) (*Vault, error) {
	repo, err := git.PlainOpen(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("open vault repo at %s: %w", vaultPath, err)
	}
	return &Vault{repo: repo, path: vaultPath}, nil
}

// Commit stages everything under the vault and commits it with a message
// summarizing the pass. A pass that left the worktree clean (e.g. the
// changed files were all ignored by .gitignore) commits nothing.
func (v *Vault) Commit(report *reconciler.SyncReport) error {
	wt, err := v.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage vault: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	_, err = wt.Commit(commitMessage(report), &git.CommitOptions{
		Author: &object.Signature{
			Name:  "momentum",
			Email: "momentum@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func commitMessage(report *reconciler.SyncReport) string {
	return fmt.Sprintf("momentum sync: %d created, %d updated", report.FilesCreated, report.FilesUpdated)
}
