// Package taskchat holds application-wide defaults shared by the config, db and cmd packages.
package taskchat

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName        = "taskchat"
	DefaultDatabaseDriver = "libsql"
	DefaultEnvPrefix      = "TASKCHAT"
)

var (
	// DefaultConfigPath is the per-user configuration directory.
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)

	// DefaultDatabaseDSN points at an embedded database in the working directory.
	DefaultDatabaseDSN = "file:" + DefaultAppName + ".db"

	// Version is stamped at build time with -ldflags "-X".
	Version = "dev"
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}
