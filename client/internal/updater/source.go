package updater

import "context"

// Source resolves the newest release visible in an update feed.
type Source interface {
	// Latest returns the newest candidate, found=false when the feed is
	// reachable but empty.
	Latest(ctx context.Context) (*Item, bool, error)
}
