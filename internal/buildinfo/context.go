// Package buildinfo carries build-time metadata injected with -ldflags.
package buildinfo

import "runtime"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Set by the linker: -X github.com/aves-app/aves/internal/buildinfo.version=...
var (
	version   string
	buildDate string
	commit    string
)

// Context holds build metadata.
type Context struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	Commit    string `json:"commit"`
}

// NewContext creates a Context from explicit values.
func NewContext(version, buildDate, commit string) *Context {
	return &Context{Version: version, BuildDate: buildDate, Commit: commit}
}

// Current returns the metadata linked into this binary.
func Current() *Context {
	return NewContext(version, buildDate, commit)
}

// GetVersion returns the version or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// GetCommit returns the short commit or UnknownValue.
func (c *Context) GetCommit() string {
	if c == nil || c.Commit == "" {
		return UnknownValue
	}
	if len(c.Commit) > 12 {
		return c.Commit[:12]
	}
	return c.Commit
}

// GoVersion returns the toolchain the binary was built with.
func GoVersion() string {
	return runtime.Version()
}

// String formats the metadata for `aves version`.
func (c *Context) String() string {
	return c.GetVersion() + " (commit " + c.GetCommit() + ", built " + c.GetBuildDate() + ", " + GoVersion() + ")"
}
