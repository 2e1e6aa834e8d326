//go:build !darwin

package daemon

// DeprecatedOS reports whether the running OS is older than supported.
func DeprecatedOS() bool {
	return false
}
