package sourcehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/google/go-github/v39/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const defaultBranch = "main"

// GitHubClient implements Client on the GitHub REST API.
type GitHubClient struct {
	client *github.Client
	owner  string
	logger *slog.Logger
}

// NewGitHubClient constructs a client authenticated with a platform-level
// token. owner may be empty, in which case repositories are created under
// the authenticated user.
func NewGitHubClient(ctx context.Context, token, owner string, logger *slog.Logger) *GitHubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubClient{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		owner:  owner,
		logger: logger,
	}
}

// CreateTempRepository creates a private repository named from nameHint
// plus a random suffix to avoid collisions.
func (c *GitHubClient) CreateTempRepository(ctx context.Context, nameHint string) (Repo, error) {
	name := fmt.Sprintf("%s-%s", slugify(nameHint), uuid.NewString()[:8])
	repo := &github.Repository{
		Name:        github.String(name),
		Private:     github.Bool(true),
		AutoInit:    github.Bool(true),
		Description: github.String("temporary deployment source (auto-generated)"),
	}
	// An empty org creates the repository under the authenticated user.
	org := ""
	if c.owner != "" {
		org = c.owner
	}
	created, _, err := c.client.Repositories.Create(ctx, org, repo)
	if err != nil {
		return Repo{}, fmt.Errorf("create temp repository: %w", err)
	}
	handle := Repo{Owner: created.GetOwner().GetLogin(), Name: created.GetName()}
	c.logger.Info("temp repository created", "repo", handle.FullName())
	return handle, nil
}

// UploadFiles writes the whole file set to the repository as one commit on
// the default branch using the Git Data API.
func (c *GitHubClient) UploadFiles(ctx context.Context, repo Repo, files []File) error {
	if len(files) == 0 {
		return errors.New("sourcehost: empty file set")
	}
	ref, _, err := c.client.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+defaultBranch)
	if err != nil {
		return fmt.Errorf("resolve head ref: %w", asNotFound(err))
	}
	parentSHA := ref.GetObject().GetSHA()

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, file := range files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(file.Path),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(file.Content),
		})
	}
	tree, _, err := c.client.Git.CreateTree(ctx, repo.Owner, repo.Name, parentSHA, entries)
	if err != nil {
		return fmt.Errorf("create tree: %w", err)
	}

	commit := &github.Commit{
		Message: github.String(fmt.Sprintf("deploy source upload at %s", time.Now().UTC().Format(time.RFC3339))),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
	}
	created, _, err := c.client.Git.CreateCommit(ctx, repo.Owner, repo.Name, commit)
	if err != nil {
		return fmt.Errorf("create commit: %w", err)
	}

	ref.Object.SHA = created.SHA
	if _, _, err := c.client.Git.UpdateRef(ctx, repo.Owner, repo.Name, ref, false); err != nil {
		return fmt.Errorf("advance head ref: %w", err)
	}
	c.logger.Info("source uploaded", "repo", repo.FullName(), "files", len(files))
	return nil
}

// DeleteRepository removes the repository. A missing repository maps to
// ErrNotFound so compensation can treat it as already deleted.
func (c *GitHubClient) DeleteRepository(ctx context.Context, repo Repo) error {
	if _, err := c.client.Repositories.Delete(ctx, repo.Owner, repo.Name); err != nil {
		return asNotFound(err)
	}
	return nil
}

// asNotFound converts GitHub 404 responses to ErrNotFound.
func asNotFound(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// slugify lowercases a name hint into a repository-safe prefix.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-', r == '.':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "project"
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return slug
}

var _ Client = (*GitHubClient)(nil)
