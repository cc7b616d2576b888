//go:build windows

package tlschannel

// setReuseAddr is a no-op on Windows: SO_REUSEADDR there permits silent
// port hijacking by another process rather than the "rebind after
// TIME_WAIT" behaviour Unix gives it, so it isn't worth setting.
func setReuseAddr(fd uintptr) error {
	return nil
}
