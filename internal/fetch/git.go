package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/koustreak/dbfill/internal/errs"
)

// CloneResult tells what CloneRepo did.
type CloneResult string

const (
	CloneResultCloned  CloneResult = "cloned"
	CloneResultUpdated CloneResult = "updated"
	CloneResultSkipped CloneResult = "skipped"
)

// CloneOptions controls what CloneRepo does with an existing checkout.
type CloneOptions struct {
	// Update pulls into an existing checkout.
	Update bool

	// Replace deletes an existing checkout and clones again. Slower than
	// Update but never leaves a half-merged tree. Wins over Update.
	Replace bool
}

// RepoFolderName derives the default checkout folder from a repository URL:
// its last path segment without the ".git" suffix.
func RepoFolderName(repoURL string) string {
	name := repoURL[strings.LastIndexAny(repoURL, "/:")+1:]
	return strings.TrimSuffix(name, ".git")
}

// CloneRepo makes dir a checkout of repoURL. An existing dir is skipped,
// updated or replaced according to opts.
func CloneRepo(ctx context.Context, repoURL, dir string, opts CloneOptions) (CloneResult, error) {
	if _, err := os.Stat(dir); err == nil {
		switch {
		case opts.Replace:
			if err := os.RemoveAll(dir); err != nil {
				return "", errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("remove %s", dir), err)
			}
		case opts.Update:
			return pull(ctx, dir)
		default:
			return CloneResultSkipped, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", errs.Wrap(errs.ErrKindQueryFailed, "create parent folder", err)
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: repoURL}); err != nil {
		_ = os.RemoveAll(dir)
		return "", errs.Wrap(errs.ErrKindConnectionFailed, fmt.Sprintf("clone %s", repoURL), err)
	}
	return CloneResultCloned, nil
}

func pull(ctx context.Context, dir string) (CloneResult, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("open repository %s", dir), err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("worktree of %s", dir), err)
	}
	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: git.DefaultRemoteName, Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("pull %s", dir), err)
	}
	return CloneResultUpdated, nil
}
