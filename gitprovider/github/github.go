// Package github implements gitprovider.Provider using the GitHub API.
package github

import (
	"context"
	"fmt"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/codesift/codesift/gitprovider"
)

// Provider wraps the GitHub API for CodeSift operations.
type Provider struct {
	gh *gogh.Client
}

// New creates a GitHub provider authenticated with the given token.
func New(token string) *Provider {
	return &Provider{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// GetDefaultBranch returns the default branch for a repository.
func (p *Provider) GetDefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	r, _, err := p.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}

	return r.GetDefaultBranch(), nil
}

// PushFiles creates a branch from base and commits the files onto it using
// the Git data API (blobs, tree, commit, ref).
func (p *Provider) PushFiles(ctx context.Context, repoFullName, branch, base, message string, files []gitprovider.File) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files to push")
	}

	baseRef, _, err := p.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+base)
	if err != nil {
		return fmt.Errorf("getting base ref: %w", err)
	}
	baseSHA := baseRef.GetObject().GetSHA()

	entries := make([]*gogh.TreeEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, &gogh.TreeEntry{
			Path:    gogh.Ptr(f.Path),
			Mode:    gogh.Ptr("100644"),
			Type:    gogh.Ptr("blob"),
			Content: gogh.Ptr(f.Content),
		})
	}

	tree, _, err := p.gh.Git.CreateTree(ctx, owner, repo, baseSHA, entries)
	if err != nil {
		return fmt.Errorf("creating tree: %w", err)
	}

	commit, _, err := p.gh.Git.CreateCommit(ctx, owner, repo, &gogh.Commit{
		Message: gogh.Ptr(message),
		Tree:    tree,
		Parents: []*gogh.Commit{{SHA: gogh.Ptr(baseSHA)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("creating commit: %w", err)
	}

	_, _, err = p.gh.Git.CreateRef(ctx, owner, repo, &gogh.Reference{
		Ref:    gogh.Ptr("refs/heads/" + branch),
		Object: &gogh.GitObject{SHA: commit.SHA},
	})
	if err != nil {
		return fmt.Errorf("creating branch ref: %w", err)
	}

	return nil
}

// CreatePR opens a pull request and returns the PR URL and number.
func (p *Provider) CreatePR(ctx context.Context, opts gitprovider.PROptions) (string, int, error) {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return "", 0, err
	}

	base := opts.Base
	if base == "" {
		base = "main"
	}

	pr, _, err := p.gh.PullRequests.Create(ctx, owner, repo, &gogh.NewPullRequest{
		Title: gogh.Ptr(opts.Title),
		Body:  gogh.Ptr(opts.Body),
		Head:  gogh.Ptr(opts.Branch),
		Base:  gogh.Ptr(base),
	})
	if err != nil {
		return "", 0, fmt.Errorf("creating pull request: %w", err)
	}

	return pr.GetHTMLURL(), pr.GetNumber(), nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], parts[1], nil
}
