//go:build !linux

package netstream

import "os"

// mmapFile falls back to a plain read on non-Linux platforms, where the
// teacher's golang.org/x/sys/unix mmap path does not apply.
func mmapFile(path string) (data []byte, cleanup func(), err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() {}, nil
}
