package helpers

import (
	"bytes"
	"io"
	"os"
	"strings"
)

const tailChunkSize = 4096

// TailLines returns up to n trailing lines of the file at path, oldest first.
// It reads backwards in chunks so large log files are not loaded whole.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var (
		size  = info.Size()
		data  []byte
		chunk = make([]byte, tailChunkSize)
	)
	for offset := size; offset > 0 && bytes.Count(data, []byte{'\n'}) <= n; {
		readSize := int64(tailChunkSize)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize
		if _, err := f.ReadAt(chunk[:readSize], offset); err != nil && err != io.EOF {
			return nil, err
		}
		data = append(append([]byte{}, chunk[:readSize]...), data...)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
