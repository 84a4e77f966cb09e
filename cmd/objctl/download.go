package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// writeFileAtomic streams r into a temporary file next to destPath and
// moves it into place once complete, so an interrupted download never
// leaves a truncated file behind.
func writeFileAtomic(destPath string, r io.Reader) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".*.part")
	if err != nil {
		return 0, err
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath)

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}

	return n, moveFile(tempPath, destPath)
}

func copyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = destFile.ReadFrom(srcFile)
	return err
}

func moveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	// A destination on another filesystem cannot be renamed into.
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if err := copyFile(srcPath, destPath); err != nil {
			return err
		}
		if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return err
}
