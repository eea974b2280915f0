// Package sourcehost stages deployable source on an external source-hosting
// platform so the compute platform can pull and build it.
package sourcehost

import (
	"context"
	"errors"
)

// ErrNotFound reports that the repository no longer exists. Deletes that
// hit it are treated as already done.
var ErrNotFound = errors.New("sourcehost: repository not found")

// Repo is the handle of a hosted repository.
type Repo struct {
	Owner string
	Name  string
}

// FullName returns the owner/name form the compute platform expects.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// File is one file of the staged source set.
type File struct {
	Path    string
	Content string
}

// Client is the source-hosting contract the deployment saga drives.
type Client interface {
	CreateTempRepository(ctx context.Context, nameHint string) (Repo, error)
	UploadFiles(ctx context.Context, repo Repo, files []File) error
	DeleteRepository(ctx context.Context, repo Repo) error
}
