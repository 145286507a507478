// Package gitprovider defines the git hosting interface used to push
// applied changes and open pull requests.
package gitprovider

import "context"

// File is one file to commit.
type File struct {
	Path    string
	Content string
}

// PROptions configures a new pull request.
type PROptions struct {
	Repo   string // "owner/repo"
	Branch string // source branch
	Base   string // target branch (default: "main")
	Title  string
	Body   string
}

// Provider is the interface for git hosting services.
type Provider interface {
	// GetDefaultBranch returns the default branch of the repository.
	GetDefaultBranch(ctx context.Context, repo string) (string, error)

	// PushFiles commits the files onto a new branch created from base and
	// pushes it to the remote.
	PushFiles(ctx context.Context, repo, branch, base, message string, files []File) error

	// CreatePR opens a pull request and returns the PR URL and number.
	CreatePR(ctx context.Context, opts PROptions) (string, int, error)
}
