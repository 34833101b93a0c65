package version

import (
	"runtime"
)

const (
	downloadURL  = "https://nightjar.app/install"
	macIntelURL  = "https://pkgs.nightjar.app/macos/amd64"
	macAppleURL  = "https://pkgs.nightjar.app/macos/arm64"
	linuxPkgsURL = "https://pkgs.nightjar.app/linux"
)

// DownloadURL returns the download page matching the running platform.
func DownloadURL() string {
	switch runtime.GOOS {
	case "darwin":
		return darwinDownloadURL()
	case "linux":
		return linuxPkgsURL
	default:
		return downloadURL
	}
}

func darwinDownloadURL() string {
	switch runtime.GOARCH {
	case "amd64":
		return macIntelURL
	case "arm64":
		return macAppleURL
	default:
		return downloadURL
	}
}
