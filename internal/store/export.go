package store

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ExportTask writes a zip containing the task journal to w. A task with
// no journal yields an empty archive.
func ExportTask(w io.Writer, taskDir string) error {
	zw := zip.NewWriter(w)

	f, err := os.Open(filepath.Join(taskDir, JournalName))
	switch {
	case os.IsNotExist(err):
		return zw.Close()
	case err != nil:
		zw.Close()
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		zw.Close()
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		zw.Close()
		return err
	}
	hdr.Name = JournalName
	hdr.Method = zip.Deflate

	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		zw.Close()
		return err
	}
	if _, err := io.Copy(entry, f); err != nil {
		zw.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	return zw.Close()
}
