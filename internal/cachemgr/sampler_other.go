//go:build !linux

package cachemgr

func totalMemory() (uint64, error) {
	return 0, ErrUnsupported
}
