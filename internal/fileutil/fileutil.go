// Package fileutil imports recordings into the audio directory.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CopyVerified copies src to dst through a temporary file in dst's
// directory and renames it into place once size and SHA-256 match. dst is
// never left half written.
func CopyVerified(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".import-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	srcHash := sha256.New()
	written, err := io.Copy(tmp, io.TeeReader(in, srcHash))
	if err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if written != info.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	dstHash, err := hashFile(tmpPath)
	if err != nil {
		return err
	}
	if !bytes.Equal(srcHash.Sum(nil), dstHash) {
		return fmt.Errorf("copy hash mismatch: %s changed during copy", src)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	committed = true
	return nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

var unsafeName = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SafeName makes name usable as a single path element. Leading dots are
// dropped so imports never become hidden files or parent references.
func SafeName(name string) string {
	name = strings.TrimSpace(unsafeName.Replace(strings.TrimSpace(name)))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "recording"
	}
	return name
}
