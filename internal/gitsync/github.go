package gitsync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"flashrevise/api/internal/syncer"
)

// GitHubDB talks to one repository through the GitHub Git Data API.
type GitHubDB struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHubDB authenticates with a personal access token. A non-empty
// apiURL points the client at GitHub Enterprise or a test server.
func NewGitHubDB(ctx context.Context, token, owner, repo, apiURL string) (*GitHubDB, error) {
	var httpClient *http.Client
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(httpClient)
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		base, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		client.BaseURL = base
	}
	return &GitHubDB{client: client, owner: owner, repo: repo}, nil
}

func (g *GitHubDB) ResolveRef(ctx context.Context, branch string) (string, error) {
	ref, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			// empty repository
			return "", fmt.Errorf("%w: %v", syncer.ErrNotFound, err)
		}
		return "", lookupError(err)
	}
	return ref.GetObject().GetSHA(), nil
}

func (g *GitHubDB) CommitTree(ctx context.Context, commitSHA string) (string, error) {
	commit, _, err := g.client.Git.GetCommit(ctx, g.owner, g.repo, commitSHA)
	if err != nil {
		return "", githubError(err)
	}
	return commit.GetTree().GetSHA(), nil
}

func (g *GitHubDB) ListBlobs(ctx context.Context, treeSHA, prefix string) ([]string, error) {
	listing, _, err := g.client.Git.GetTree(ctx, g.owner, g.repo, treeSHA, true)
	if err != nil {
		return nil, githubError(err)
	}
	if listing.GetTruncated() {
		log.Printf("gitsync: tree %s listing truncated, stale files may survive", treeSHA)
	}
	var paths []string
	for _, entry := range listing.Entries {
		if entry.GetType() == "blob" && strings.HasPrefix(entry.GetPath(), prefix) {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

// CreateBlob uploads content as Base64 of its raw bytes, so UTF-8 text
// survives unchanged.
func (g *GitHubDB) CreateBlob(ctx context.Context, content []byte) (string, error) {
	blob, _, err := g.client.Git.CreateBlob(ctx, g.owner, g.repo, &github.Blob{
		Content:  github.String(base64.StdEncoding.EncodeToString(content)),
		Encoding: github.String("base64"),
	})
	if err != nil {
		return "", githubError(err)
	}
	return blob.GetSHA(), nil
}

func (g *GitHubDB) CreateTree(ctx context.Context, baseTreeSHA string, entries []Entry) (string, error) {
	treeEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		entry := &github.TreeEntry{
			Path: github.String(e.Path),
			Mode: github.String(fileMode),
			Type: github.String("blob"),
		}
		// a nil SHA is sent as null, which removes the path
		if e.BlobSHA != "" {
			entry.SHA = github.String(e.BlobSHA)
		}
		treeEntries = append(treeEntries, entry)
	}
	created, _, err := g.client.Git.CreateTree(ctx, g.owner, g.repo, baseTreeSHA, treeEntries)
	if err != nil {
		return "", githubError(err)
	}
	return created.GetSHA(), nil
}

func (g *GitHubDB) CreateCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error) {
	commit := &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: github.String(treeSHA)},
	}
	for _, p := range parents {
		commit.Parents = append(commit.Parents, &github.Commit{SHA: github.String(p)})
	}
	created, _, err := g.client.Git.CreateCommit(ctx, g.owner, g.repo, commit, &github.CreateCommitOptions{})
	if err != nil {
		return "", githubError(err)
	}
	return created.GetSHA(), nil
}

func (g *GitHubDB) UpdateRef(ctx context.Context, branch, commitSHA string, force bool) error {
	_, _, err := g.client.Git.UpdateRef(ctx, g.owner, g.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(commitSHA)},
	}, force)
	if err != nil {
		return githubError(err)
	}
	return nil
}

func (g *GitHubDB) CreateRef(ctx context.Context, branch, commitSHA string) error {
	_, _, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(commitSHA)},
	})
	if err != nil {
		return githubError(err)
	}
	return nil
}

// ReadFile finds filePath in the commit's tree and downloads the blob raw.
// The contents API omits bodies above 1 MB.
func (g *GitHubDB) ReadFile(ctx context.Context, commitSHA, filePath string) ([]byte, error) {
	treeSHA, err := g.CommitTree(ctx, commitSHA)
	if err != nil {
		return nil, err
	}
	listing, _, err := g.client.Git.GetTree(ctx, g.owner, g.repo, treeSHA, true)
	if err != nil {
		return nil, lookupError(err)
	}
	for _, entry := range listing.Entries {
		if entry.GetPath() != filePath {
			continue
		}
		if entry.GetType() != "blob" {
			return nil, fmt.Errorf("%w: %s is a directory", syncer.ErrNotFound, filePath)
		}
		raw, _, err := g.client.Git.GetBlobRaw(ctx, g.owner, g.repo, entry.GetSHA())
		if err != nil {
			return nil, lookupError(err)
		}
		return raw, nil
	}
	if listing.GetTruncated() {
		log.Printf("gitsync: tree %s listing truncated before %s", treeSHA, filePath)
	}
	return nil, fmt.Errorf("%w: %s at %s", syncer.ErrNotFound, filePath, commitSHA)
}

// lookupError is githubError for reads where a 404 means "not there yet".
func lookupError(err error) error {
	if statusOf(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", syncer.ErrNotFound, err)
	}
	return githubError(err)
}

func githubError(err error) error {
	switch statusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", syncer.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", syncer.ErrTransport, err)
}

func statusOf(err error) int {
	var rerr *github.ErrorResponse
	if errors.As(err, &rerr) && rerr.Response != nil {
		return rerr.Response.StatusCode
	}
	return 0
}
