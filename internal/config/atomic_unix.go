//go:build !windows

package config

import (
	"os"

	"github.com/google/renameio/v2"
)

// writeFileAtomic replaces path so readers never see a partial config.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
