package updater

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	downloadTimeout       = 15 * time.Minute
	releaseNotesSizeLimit = 1 << 20
)

// downloadToFile stages the release asset in dst, streaming byte counts
// to the driver as they arrive.
func (u *Updater) downloadToFile(ctx context.Context, item *Item, dst string, driver Driver) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create staging file %q: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", dst, cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.AssetURL, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, u.cfg.CurrentVersion))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", item.AssetURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		driver.ShowDownloadTotalBytes(resp.ContentLength)
	}

	counted := io.TeeReader(resp.Body, &progressCounter{driver: driver})
	if _, err := io.Copy(out, counted); err != nil {
		return fmt.Errorf("write staged asset: %w", err)
	}

	return nil
}

type progressCounter struct {
	driver Driver
}

func (p *progressCounter) Write(bs []byte) (int, error) {
	p.driver.ShowDownloadReceivedBytes(int64(len(bs)))
	return len(bs), nil
}

// extractStaged unpacks a compressed staged asset next to itself and
// returns the path of the plain binary. Uncompressed assets pass through
// untouched.
func (u *Updater) extractStaged(item *Item, staged string, driver Driver) (string, error) {
	if !strings.HasSuffix(item.AssetName, ".gz") && !strings.HasSuffix(staged, ".gz") {
		return staged, nil
	}

	driver.ShowExtractionStarted(item)

	in, err := os.Open(staged)
	if err != nil {
		return "", fmt.Errorf("open staged asset: %w", err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", staged, cerr)
		}
	}()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() {
		if cerr := gz.Close(); cerr != nil {
			log.Warnf("error closing gzip stream for %q: %v", staged, cerr)
		}
	}()

	extracted := filepath.Join(filepath.Dir(staged), "extracted-"+strings.TrimSuffix(filepath.Base(staged), ".gz"))
	out, err := os.Create(extracted)
	if err != nil {
		return "", fmt.Errorf("create extraction target: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", extracted, cerr)
		}
	}()

	if _, err := io.Copy(out, gz); err != nil {
		return "", fmt.Errorf("extract staged asset: %w", err)
	}

	driver.ShowExtractionProgress(1.0)
	return extracted, nil
}

// loadReleaseNotes surfaces release notes to the driver: inline notes
// when the feed embeds them, otherwise a bounded fetch of the notes URL.
func (u *Updater) loadReleaseNotes(ctx context.Context, item *Item, driver Driver) {
	if item.ReleaseNotes != "" {
		driver.ShowReleaseNotes(item.ReleaseNotes)
		return
	}
	if item.ReleaseNotesURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.ReleaseNotesURL, nil)
	if err != nil {
		driver.ShowReleaseNotesFailed(fmt.Errorf("create release notes request: %w", err))
		return
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, u.cfg.CurrentVersion))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		driver.ShowReleaseNotesFailed(fmt.Errorf("fetch release notes: %w", err))
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		driver.ShowReleaseNotesFailed(fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode))
		return
	}

	notes, err := io.ReadAll(io.LimitReader(resp.Body, releaseNotesSizeLimit))
	if err != nil {
		driver.ShowReleaseNotesFailed(fmt.Errorf("read release notes: %w", err))
		return
	}

	driver.ShowReleaseNotes(string(notes))
}
