// Package config holds the small slice of ambient configuration that
// belongs to the core library rather than to CLI flag parsing: temp-file
// placement, the default xz compression preset, and fetch retry limits.
package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Options is populated by Load from the process environment.
type Options struct {
	TempDir          string `envconfig:"COREOS_INSTALLER_TEMP_DIR" default:"/var/tmp"`
	XzCompressFast   bool   `envconfig:"COREOS_INSTALLER_XZ_FAST" default:"false"`
	FetchRetries     int    `envconfig:"COREOS_INSTALLER_FETCH_RETRIES" default:"3"`
	InsecureByPolicy bool   `envconfig:"COREOS_INSTALLER_INSECURE" default:"false"`
}

// Load reads Options from the environment under the "coreos_installer"
// prefix (e.g. COREOS_INSTALLER_TEMP_DIR).
func Load() (Options, error) {
	var o Options
	if err := envconfig.Process("coreos_installer", &o); err != nil {
		return Options{}, errors.Wrap(err, "processing configuration")
	}
	return o, nil
}
