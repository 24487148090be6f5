package scan

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/go-git/go-git/v5"
)

func openRepo(start string) (*git.Repository, string, error) {
	repo, err := git.PlainOpenWithOptions(start, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, "", fmt.Errorf("opening git repository at %s: %w", start, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("opening worktree: %w", err)
	}
	return repo, wt.Filesystem.Root(), nil
}

// FindRoot returns the top of the git worktree containing start.
func FindRoot(start string) (string, error) {
	_, root, err := openRepo(start)
	return root, err
}

// ChangedFiles returns the worktree root and the absolute paths of files
// that are modified, added, renamed or untracked relative to HEAD. Deleted
// files are left out.
func ChangedFiles(start string) (root string, files []string, err error) {
	repo, root, err := openRepo(start)
	if err != nil {
		return "", nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", nil, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", nil, fmt.Errorf("reading git status: %w", err)
	}

	for path, st := range status {
		if st.Worktree == git.Deleted || (st.Staging == git.Deleted && st.Worktree != git.Untracked) {
			continue
		}
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		files = append(files, filepath.Join(root, filepath.FromSlash(path)))
	}
	slices.Sort(files)
	return root, files, nil
}
