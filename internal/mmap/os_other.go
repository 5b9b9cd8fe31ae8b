//go:build !unix

package mmap

// Heap-backed fallback for platforms without anonymous mmap support.
// The memory stays under GC control but the Mapping contract is unchanged.
func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	return data, func([]byte) error { return nil }, nil
}
