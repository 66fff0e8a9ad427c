package bridge

import (
	"bytes"
	"errors"
	"io"
	"os"
)

const tailChunk = 4096

// LastLine returns the last non-empty line of the file at path, read
// from the end so the size of the feed does not matter. A missing file
// yields "" and no error.
func LastLine(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	var tail []byte
	end := info.Size()
	for end > 0 {
		start := end - tailChunk
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		tail = append(buf, tail...)
		end = start

		trimmed := bytes.TrimRight(tail, "\r\n \t")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return string(bytes.TrimSpace(trimmed[i+1:])), nil
		}
	}
	return string(bytes.TrimSpace(tail)), nil
}
