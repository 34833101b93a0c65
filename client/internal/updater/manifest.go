package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

const (
	manifestSizeLimit = 1 << 20
	manifestTimeout   = 30 * time.Second
	userAgent         = "Nightjar updater/%s"
)

type manifestRelease struct {
	Version         string            `json:"version"`
	DisplayVersion  string            `json:"display_version,omitempty"`
	Build           string            `json:"build,omitempty"`
	AssetURL        string            `json:"asset_url"`
	AssetName       string            `json:"asset_name,omitempty"`
	ReleaseNotes    string            `json:"release_notes,omitempty"`
	ReleaseNotesURL string            `json:"release_notes_url,omitempty"`
	Properties      map[string]string `json:"properties,omitempty"`
}

type manifest struct {
	Releases []manifestRelease `json:"releases"`
}

// ManifestSource reads a hosted JSON release manifest. Unlike the GitHub
// feed it carries free-form per-release properties, including release
// channels.
type ManifestSource struct {
	url        string
	channel    string
	appVersion string
	httpClient *http.Client
}

// NewManifestSource subscribes to channel on top of the default channel.
// An empty channel keeps default-channel releases only.
func NewManifestSource(url, channel, appVersion string) *ManifestSource {
	return &ManifestSource{
		url:        url,
		channel:    channel,
		appVersion: appVersion,
		httpClient: &http.Client{Timeout: manifestTimeout},
	}
}

func (s *ManifestSource) Latest(ctx context.Context) (*Item, bool, error) {
	m, err := s.fetch(ctx)
	if err != nil {
		return nil, false, err
	}

	var (
		best        *Item
		bestVersion *goversion.Version
	)
	for _, release := range m.Releases {
		item := release.toItem(s.appVersion)
		if !s.subscribed(item.Channel()) {
			log.Tracef("skipping release %s on channel %s", item.Version, item.Channel())
			continue
		}
		parsed, err := goversion.NewVersion(item.Version)
		if err != nil {
			log.Warnf("skipping release with unparseable version %q: %v", item.Version, err)
			continue
		}
		if bestVersion == nil || parsed.GreaterThan(bestVersion) {
			best, bestVersion = item, parsed
		}
	}

	if best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

func (s *ManifestSource) subscribed(channel string) bool {
	return channel == DefaultChannel || channel == s.channel
}

func (s *ManifestSource) fetch(ctx context.Context) (*manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create manifest request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, s.appVersion))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(CodeInvalidFeed, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, manifestSizeLimit))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, newError(CodeInvalidFeed, fmt.Errorf("parse manifest: %w", err))
	}

	return &m, nil
}

func (r manifestRelease) toItem(appVersion string) *Item {
	props := r.Properties
	if props == nil {
		props = map[string]string{}
	}
	return &Item{
		Version:         r.Version,
		DisplayVersion:  r.DisplayVersion,
		Build:           r.Build,
		AssetURL:        expandAssetURL(r.AssetURL, r.Version),
		AssetName:       r.AssetName,
		ReleaseNotes:    r.ReleaseNotes,
		ReleaseNotesURL: r.ReleaseNotesURL,
		Properties:      props,
	}
}

// expandAssetURL substitutes the %version, %os and %arch placeholders of
// a manifest asset URL template.
func expandAssetURL(url, version string) string {
	url = strings.ReplaceAll(url, "%version", version)
	url = strings.ReplaceAll(url, "%os", runtime.GOOS)
	url = strings.ReplaceAll(url, "%arch", runtime.GOARCH)
	return url
}
