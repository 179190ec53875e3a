// Package archive keeps a git journal of the obsolete file area. Every file
// relocated there is committed, so each superseded revision of a document's
// file remains retrievable at any point in time even after later relocations
// reuse its base name.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	committerName  = "qualidoc"
	committerEmail = "archive@qualidoc.local"
)

// Entry is one recorded archive event.
type Entry struct {
	Hash     string    `json:"hash"`
	Message  string    `json:"message"`
	Recorded time.Time `json:"recorded"`
}

// Journal wraps a git repository rooted at the obsolete directory. Writes are
// serialized with a single mutex; the archive is one worktree, not one repo
// per document.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// Open initializes the journal repository at dir, creating it when absent.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	if _, err := git.PlainOpen(dir); err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("open archive repo: %w", err)
		}
		if _, err := git.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("init archive repo: %w", err)
		}
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the worktree directory the journal tracks.
func (j *Journal) Dir() string { return j.dir }

// Record stages relPath (relative to the archive dir) and commits it.
func (j *Journal) Record(relPath, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := git.PlainOpen(j.dir)
	if err != nil {
		return fmt.Errorf("open archive repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Add(relPath); err != nil {
		return fmt.Errorf("stage %s: %w", relPath, err)
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  committerName,
			Email: committerEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", relPath, err)
	}
	return nil
}

// History lists the archive events touching relPath, newest first. A zero
// limit means all entries.
func (j *Journal) History(relPath string, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := git.PlainOpen(j.dir)
	if err != nil {
		return nil, fmt.Errorf("open archive repo: %w", err)
	}

	options := &git.LogOptions{}
	if relPath != "" {
		options.FileName = &relPath
	}
	iter, err := repo.Log(options)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, err
		}
		// An empty repository has no HEAD yet; report no history.
		return []Entry{}, nil
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	err = iter.ForEach(func(commit *object.Commit) error {
		entries = append(entries, Entry{
			Hash:     commit.Hash.String(),
			Message:  commit.Message,
			Recorded: commit.Author.When,
		})
		if limit > 0 && len(entries) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate archive log: %w", err)
	}
	return entries, nil
}
