package updater

// Feed property keys carrying the release channel. Feeds generated from
// appcast documents keep the namespaced form, plain manifests use the
// short one.
const (
	appcastChannelKey = "sparkle:channel"
	plainChannelKey   = "channel"

	// DefaultChannel is reported when the feed carries no channel at all.
	DefaultChannel = "default"
)

// Item describes one release candidate discovered in the feed. It is
// owned by the engine; adapters derive display strings and analytics
// properties from it but never persist it.
type Item struct {
	// Version is the machine-comparable release version.
	Version string
	// DisplayVersion is the marketing version shown to users. May be
	// empty, in which case Version is displayed.
	DisplayVersion string
	// Build is the build identifier of the release, when the feed
	// provides one.
	Build string

	AssetURL  string
	AssetName string

	ReleaseNotes    string
	ReleaseNotesURL string

	// Properties carries the raw key-value metadata of the feed entry.
	Properties map[string]string
}

// Channel returns the release channel of the item, preferring the
// namespaced appcast key over the plain one and defaulting when neither
// is present.
func (it *Item) Channel() string {
	if v := it.Properties[appcastChannelKey]; v != "" {
		return v
	}
	if v := it.Properties[plainChannelKey]; v != "" {
		return v
	}
	return DefaultChannel
}

// UserVersion returns the string presented to users, the display version
// falling back to the raw version.
func (it *Item) UserVersion() string {
	if it.DisplayVersion != "" {
		return it.DisplayVersion
	}
	return it.Version
}
