//go:build !linux && !windows

package platform

import "errors"

// NewNativeBackend reports that no native desktop shell is supported.
func NewNativeBackend() (Native, error) {
	return nil, errors.New("no native desktop backend on this platform; use the memory backend")
}
