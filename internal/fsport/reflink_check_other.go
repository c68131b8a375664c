//go:build !linux

package fsport

import "fmt"

// CheckReflinkSupport always fails on non-Linux hosts: no collaborator in
// this module implements a FIEMAP-equivalent probe for other kernels.
func CheckReflinkSupport(fs FS, root string) error {
	return NewError(KindUnsupported, "reflink_copy", root, fmt.Errorf("reflink not supported on this platform"))
}
