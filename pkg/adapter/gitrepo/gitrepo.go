// Package gitrepo provides an adapter for curated catalogs kept as YAML files
// in a Git repository. The repository is cloned on first fetch and pulled on
// later fetches; the commit SHA is tracked for provenance.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gogithttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/solaius/model-harvester/pkg/adapter"
	"github.com/solaius/model-harvester/pkg/adapter/yamlfile"
	"github.com/solaius/model-harvester/pkg/entity"
)

// TypeName is the adapter type used in the ingestion config.
const TypeName = "gitrepo"

func init() {
	adapter.Register(TypeName, New)
}

// Adapter harvests catalog YAML files from a Git repository.
type Adapter struct {
	name         string
	repoURL      string
	branch       string
	pathPattern  string
	authToken    string
	shallowClone bool
	defaultType  entity.Type
	logger       *slog.Logger

	mu         sync.Mutex
	cloneDir   string
	lastCommit string
}

// New builds an adapter from options. Required: "repoUrl". Optional:
// "branch" (main), "path" (**/*.yaml), "authToken", "shallowClone" (true),
// "defaultType" (model).
func New(name string, options map[string]any) (adapter.Adapter, error) {
	repoURL, err := adapter.RequiredString(options, "repoUrl")
	if err != nil {
		return nil, fmt.Errorf("gitrepo source %s: %w", name, err)
	}
	return &Adapter{
		name:         name,
		repoURL:      repoURL,
		branch:       adapter.String(options, "branch", "main"),
		pathPattern:  adapter.String(options, "path", "**/*.yaml"),
		authToken:    adapter.String(options, "authToken", ""),
		shallowClone: adapter.Bool(options, "shallowClone", true),
		defaultType:  entity.Type(adapter.String(options, "defaultType", string(entity.TypeModel))),
		logger:       slog.Default().With("adapter", TypeName, "source", name),
	}, nil
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return a.name }

// LastCommit returns the SHA of the last fetched commit.
func (a *Adapter) LastCommit() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCommit
}

// Fetch implements adapter.Adapter.
func (a *Adapter) Fetch(ctx context.Context, opts adapter.FetchOptions) ([]adapter.Raw, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cloneDir == "" {
		if err := a.clone(ctx); err != nil {
			return nil, err
		}
	} else if err := a.pull(ctx); err != nil {
		return nil, err
	}

	records, err := a.readFiles()
	if err != nil {
		return nil, err
	}
	return adapter.Window(records, opts.Offset, opts.Limit), nil
}

// Normalize implements adapter.Adapter. Records carry the commit they were
// read at in meta.extra.
func (a *Adapter) Normalize(raw adapter.Raw) (*entity.Entity, error) {
	e, err := adapter.NormalizeRecord(a.name, a.defaultType, raw)
	if err != nil {
		return nil, err
	}
	if commit, ok := raw["_commit"].(string); ok && commit != "" {
		if e.Meta.Extra == nil {
			e.Meta.Extra = map[string]any{}
		}
		e.Meta.Extra["commit"] = commit
	}
	return e, nil
}

// Close removes the local clone.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cloneDir == "" {
		return nil
	}
	err := os.RemoveAll(a.cloneDir)
	a.cloneDir = ""
	return err
}

func (a *Adapter) auth() *gogithttp.BasicAuth {
	if a.authToken == "" {
		return nil
	}
	// Username is ignored for token auth.
	return &gogithttp.BasicAuth{Username: "git", Password: a.authToken}
}

func (a *Adapter) clone(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "harvest-git-*")
	if err != nil {
		return fmt.Errorf("create clone dir: %w", err)
	}

	cloneOpts := &gogit.CloneOptions{
		URL:           a.repoURL,
		ReferenceName: plumbing.NewBranchReferenceName(a.branch),
		SingleBranch:  true,
	}
	if a.shallowClone {
		cloneOpts.Depth = 1
	}
	if auth := a.auth(); auth != nil {
		cloneOpts.Auth = auth
	}

	a.logger.Info("cloning repository", "repo", a.repoURL, "branch", a.branch)
	repo, err := gogit.PlainCloneContext(ctx, dir, false, cloneOpts)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("git clone %s: %w", a.repoURL, err)
	}
	a.cloneDir = dir
	a.updateLastCommit(repo)
	return nil
}

func (a *Adapter) pull(ctx context.Context) error {
	repo, err := gogit.PlainOpen(a.cloneDir)
	if err != nil {
		return fmt.Errorf("open clone: %w", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	pullOpts := &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(a.branch),
		SingleBranch:  true,
	}
	if auth := a.auth(); auth != nil {
		pullOpts.Auth = auth
	}
	err = w.PullContext(ctx, pullOpts)
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("git pull %s: %w", a.repoURL, err)
	}
	a.updateLastCommit(repo)
	return nil
}

func (a *Adapter) updateLastCommit(repo *gogit.Repository) {
	ref, err := repo.Head()
	if err != nil {
		a.logger.Error("failed to resolve HEAD", "error", err)
		return
	}
	a.lastCommit = ref.Hash().String()
}

// readFiles parses every matching file in walk order, which is lexical and
// therefore stable across runs.
func (a *Adapter) readFiles() ([]adapter.Raw, error) {
	var records []adapter.Raw
	err := filepath.WalkDir(a.cloneDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(a.cloneDir, path)
		if err != nil {
			return nil
		}
		if !matchGlob(a.pathPattern, filepath.ToSlash(rel)) {
			return nil
		}
		fileRecords, err := yamlfile.ReadCatalog(path)
		if err != nil {
			a.logger.Error("skipping unreadable catalog file", "file", rel, "error", err)
			return nil
		}
		for _, r := range fileRecords {
			r["_commit"] = a.lastCommit
		}
		records = append(records, fileRecords...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk clone: %w", err)
	}
	return records, nil
}

// matchGlob matches a slash-separated path against a glob pattern.
// Supports *, ** and ? wildcards.
func matchGlob(pattern, path string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, path)
		return matched
	}

	parts := strings.SplitN(pattern, "**", 2)
	prefix := parts[0]
	suffix := strings.TrimLeft(parts[1], "/")

	if prefix != "" && !strings.HasPrefix(path, prefix) {
		return false
	}
	if suffix == "" {
		return true
	}

	segments := strings.Split(strings.TrimPrefix(path, prefix), "/")
	for i := range segments {
		if matched, _ := filepath.Match(suffix, strings.Join(segments[i:], "/")); matched {
			return true
		}
	}
	return false
}
