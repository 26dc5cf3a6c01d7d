// Package static embeds the board's browser assets.
package static

import (
	"embed"
	"io/fs"
)

//go:embed index.html css js
var assets embed.FS

// GetFS returns the embedded assets.
func GetFS() fs.FS {
	return assets
}

// ReadFile reads one embedded asset.
func ReadFile(name string) ([]byte, error) {
	return assets.ReadFile(name)
}
