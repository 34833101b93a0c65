package updater

import (
	"context"
	"fmt"

	"github.com/creativeprojects/go-selfupdate"
)

// GitHubSource reads releases of a GitHub repository, delegating asset
// selection for the running OS and architecture to go-selfupdate.
type GitHubSource struct {
	slug string
}

// NewGitHubSource takes an owner/name repository slug.
func NewGitHubSource(slug string) *GitHubSource {
	return &GitHubSource{slug: slug}
}

func (s *GitHubSource) Latest(ctx context.Context) (*Item, bool, error) {
	release, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(s.slug))
	if err != nil {
		return nil, false, fmt.Errorf("detect latest release of %s: %w", s.slug, err)
	}
	if !found {
		return nil, false, nil
	}

	item := &Item{
		Version:         release.Version(),
		DisplayVersion:  release.Name,
		AssetURL:        release.AssetURL,
		AssetName:       release.AssetName,
		ReleaseNotes:    release.ReleaseNotes,
		ReleaseNotesURL: release.URL,
		// GitHub releases carry no channel metadata
		Properties: map[string]string{},
	}

	return item, true, nil
}
