package osmet

import "runtime"

// archNames maps Go's GOARCH values to the uname(2) machine strings the
// original tool records (it called uname() directly on the packing host).
var archNames = map[string]string{
	"amd64": "x86_64",
	"arm64": "aarch64",
	"386":   "i686",
	"s390x": "s390x",
	"ppc64le": "ppc64le",
}

// runtimeArchitecture returns the uname-style machine name for the running
// binary's architecture, falling back to the raw GOARCH value if unmapped.
func runtimeArchitecture() string {
	if name, ok := archNames[runtime.GOARCH]; ok {
		return name
	}
	return runtime.GOARCH
}
