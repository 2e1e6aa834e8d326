//go:build !windows

package progress

import "os"

// enableANSI is a no-op: Unix terminals understand escape sequences natively.
func enableANSI(*os.File) {}
