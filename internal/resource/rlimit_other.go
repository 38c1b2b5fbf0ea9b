//go:build !unix

package resource

func fdLimit() (uint64, bool) {
	return 0, false
}
