// Package revisions keeps the edit history of each draft in its own git repository.
// A revision holds contract.md with the contract text and analysis.json with the
// title, summary and risks.
package revisions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"blocksign/api/internal/draft"
)

const (
	contractFile = "contract.md"
	analysisFile = "analysis.json"
	mainBranch   = "main"
)

var (
	ErrNoHistory  = errors.New("draft has no revisions")
	errBadDraftID = errors.New("invalid draft id")
	validDraftID  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

type Content struct {
	Title    string       `json:"title"`
	Contract string       `json:"-"`
	Summary  []string     `json:"summary"`
	Risks    []draft.Risk `json:"risks"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldChange names a field that differs between two revisions.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Save commits content as the next revision of draftID, creating the repository on
// first use. When content equals the current head no commit is made and the head
// is returned with changed set to false.
func (s *Service) Save(draftID string, content Content, author, message string) (Commit, bool, error) {
	if !validDraftID.MatchString(draftID) {
		return Commit{}, false, errBadDraftID
	}
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(draftID)
	if err != nil {
		return Commit{}, false, err
	}

	var head *object.Commit
	if !fresh {
		head, err = headCommit(repo)
		if errors.Is(err, ErrNoHistory) {
			// Initialized but never committed.
			fresh = true
		} else if err != nil {
			return Commit{}, false, err
		}
	}
	if head != nil {
		current, err := readContent(head)
		if err != nil {
			return Commit{}, false, err
		}
		if !HasChanges(current, content) {
			return toCommit(head), false, nil
		}
	}

	hash, err := s.commit(repo, content, author, message)
	if err != nil {
		return Commit{}, false, err
	}
	if fresh {
		if err := pointHeadAtMain(repo, hash); err != nil {
			return Commit{}, false, err
		}
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// History lists revisions newest first. limit <= 0 lists all of them.
func (s *Service) History(draftID string, limit int) ([]Commit, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(draftID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Content returns the draft content at hash, which may be abbreviated.
func (s *Service) Content(draftID, hash string) (Content, Commit, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(draftID)
	if err != nil {
		return Content{}, Commit{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, Commit{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, Commit{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	content, err := readContent(commitObj)
	if err != nil {
		return Content{}, Commit{}, err
	}
	return content, toCommit(commitObj), nil
}

// Tag marks the current head, for example when the draft is anchored on chain.
// Existing tags are left in place.
func (s *Service) Tag(draftID, name, message string) error {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(draftID)
	if err != nil {
		return err
	}
	head, err := headCommit(repo)
	if err != nil {
		return err
	}
	_, err = repo.CreateTag(name, head.Hash, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "blocksign", Email: "blocksign@localhost", When: s.now()},
		Message: message,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) repoPath(draftID string) string {
	return filepath.Join(s.baseDir, draftID)
}

func (s *Service) draftLock(draftID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[draftID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[draftID] = lock
	}
	return lock
}

func (s *Service) open(draftID string) (*git.Repository, error) {
	if !validDraftID.MatchString(draftID) {
		return nil, errBadDraftID
	}
	repo, err := git.PlainOpen(s.repoPath(draftID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(draftID string) (*git.Repository, bool, error) {
	repo, err := s.open(draftID)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, false, err
	}
	path := s.repoPath(draftID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) commit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	analysis, err := json.MarshalIndent(normalized(content), "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal analysis: %w", err)
	}
	files := map[string][]byte{
		contractFile: []byte(content.Contract),
		analysisFile: append(analysis, '\n'),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(root, name), data, 0o644); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	if author == "" {
		author = "blocksign"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author) + "@blocksign.local",
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

// pointHeadAtMain moves the first commit from the init branch onto main.
func pointHeadAtMain(repo *git.Repository, hash plumbing.Hash) error {
	initial, err := repo.Head()
	if err != nil {
		return fmt.Errorf("read HEAD: %w", err)
	}
	mainRef := plumbing.NewBranchReferenceName(mainBranch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(mainRef, hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, mainRef)); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	if initial.Name() != mainRef {
		if err := repo.Storer.RemoveReference(initial.Name()); err != nil {
			return fmt.Errorf("remove %s: %w", initial.Name(), err)
		}
	}
	return nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readContent(commitObj *object.Commit) (Content, error) {
	analysis, err := readFile(commitObj, analysisFile)
	if err != nil {
		return Content{}, err
	}
	var content Content
	if err := json.Unmarshal(analysis, &content); err != nil {
		return Content{}, fmt.Errorf("decode %s: %w", analysisFile, err)
	}
	contract, err := readFile(commitObj, contractFile)
	if err != nil {
		return Content{}, err
	}
	content.Contract = string(contract)
	return normalized(content), nil
}

func readFile(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func normalized(content Content) Content {
	if content.Summary == nil {
		content.Summary = []string{}
	}
	if content.Risks == nil {
		content.Risks = []draft.Risk{}
	}
	return content
}

// DiffFields lists the fields that differ between two revisions, in field order.
func DiffFields(from, to Content) []FieldChange {
	changes := make([]FieldChange, 0)
	if from.Title != to.Title {
		changes = append(changes, FieldChange{Field: "title", Before: from.Title, After: to.Title})
	}
	if from.Contract != to.Contract {
		changes = append(changes, FieldChange{Field: "contract", Before: from.Contract, After: to.Contract})
	}
	if !slices.Equal(from.Summary, to.Summary) {
		changes = append(changes, FieldChange{Field: "summary", Before: encode(from.Summary), After: encode(to.Summary)})
	}
	if !slices.Equal(from.Risks, to.Risks) {
		changes = append(changes, FieldChange{Field: "risks", Before: encode(from.Risks), After: encode(to.Risks)})
	}
	return changes
}

func HasChanges(from, to Content) bool {
	return len(DiffFields(normalized(from), normalized(to))) > 0
}

func encode(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
