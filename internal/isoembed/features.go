package isoembed

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/iso9660"
)

const featuresPath = "COREOS/FEATURES.JSO"

// Features describes which optional customize-flow operations a given ISO
// build supports; the customize flow consults it to refuse operations the
// image cannot perform.
type Features struct {
	InstallerConfig   bool `json:"installer-config"`
	LiveInitrdNetwork bool `json:"live-initrd-network"`
}

// LoadFeatures reads and parses the feature-flags descriptor. A missing
// descriptor (older images) is reported as the zero Features value, not an
// error, matching the embed area's own "old image" tolerance.
func LoadFeatures(iso *iso9660.IsoFs) (Features, error) {
	entry, err := iso.GetPath(featuresPath)
	if errors.Is(err, iso9660.NotFound) {
		return Features{}, nil
	}
	if err != nil {
		return Features{}, errors.Wrap(err, "looking up feature flags")
	}
	f, err := entry.AsFile()
	if err != nil {
		return Features{}, err
	}
	data, err := io.ReadAll(iso.ReadFile(f))
	if err != nil {
		return Features{}, errors.Wrap(err, "reading feature flags")
	}
	var features Features
	if err := json.Unmarshal(data, &features); err != nil {
		return Features{}, errors.Wrap(err, "decoding feature flags")
	}
	return features, nil
}
