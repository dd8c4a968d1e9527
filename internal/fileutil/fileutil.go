package fileutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteAtomic creates dst by streaming write into a uniquely named temp file
// in the same directory and renaming it into place. Readers never observe a
// partial file, and concurrent writers of the same path each publish a
// complete copy. It returns the size of the published file.
func WriteAtomic(dst string, mode os.FileMode, write func(io.Writer) error) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	buffered := bufio.NewWriter(out)
	if err := write(buffered); err != nil {
		return 0, err
	}
	if err := buffered.Flush(); err != nil {
		return 0, fmt.Errorf("flush temp file: %w", err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, fmt.Errorf("publish %s: %w", filepath.Base(dst), err)
	}
	published = true
	return info.Size(), nil
}
