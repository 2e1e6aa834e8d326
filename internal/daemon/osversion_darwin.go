//go:build darwin

package daemon

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// darwinMinKernel is the Darwin major version of the oldest supported macOS.
const darwinMinKernel = 13

// DeprecatedOS reports whether the running macOS is older than supported.
func DeprecatedOS() bool {
	release, err := unix.Sysctl("kern.osrelease")
	if err != nil {
		return false
	}
	major, _, _ := strings.Cut(release, ".")
	n, err := strconv.Atoi(major)
	return err == nil && n < darwinMinKernel
}
