package helpers

import (
	"bytes"
	"io"
	"sync"
)

// PrefixWriter prefixes every complete line written to it. Partial lines are
// buffered until a newline arrives or Flush is called.
type PrefixWriter struct {
	mu     sync.Mutex
	writer io.Writer
	prefix []byte
	buf    bytes.Buffer
}

func NewPrefixWriter(writer io.Writer, prefix string) *PrefixWriter {
	return &PrefixWriter{
		writer: writer,
		prefix: []byte(prefix),
	}
}

func (pw *PrefixWriter) Write(p []byte) (int, error) {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.buf.Write(p)
	for {
		idx := bytes.IndexByte(pw.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := pw.buf.Next(idx + 1)
		if err := pw.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line followed by a newline.
func (pw *PrefixWriter) Flush() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.buf.Len() == 0 {
		return nil
	}
	line := append(pw.buf.Bytes(), '\n')
	pw.buf.Reset()
	return pw.writeLine(line)
}

func (pw *PrefixWriter) writeLine(line []byte) error {
	if _, err := pw.writer.Write(pw.prefix); err != nil {
		return err
	}
	_, err := pw.writer.Write(line)
	return err
}
