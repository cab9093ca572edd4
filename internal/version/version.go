// Package version carries build metadata injected at link time.
package version

// Version is overridden via -ldflags at release build time.
var Version = "dev"
