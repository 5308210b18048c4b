// SPDX-License-Identifier: MPL-2.0

// Package archive materializes untrusted zip archives into scratch
// directories. Every entry is vetted before any byte is written: total
// uncompressed size is computed from the central directory, entry names
// must be free of control characters, and resolved paths must stay inside
// the destination. Extraction is all-or-nothing; a rejected entry makes
// the whole destination unusable.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxUncompressedSize is the default cap on the total uncompressed
	// size of an uploaded archive.
	MaxUncompressedSize = 300 * 1024 * 1024

	// MaxGeneratedSize is the default cap on the size of an archive
	// generated from a VCS checkout.
	MaxGeneratedSize = 100 * 1024 * 1024
)

// ErrGeneratedTooLarge is returned by Create when the generated archive
// exceeds its cap. The archive is removed before returning.
var ErrGeneratedTooLarge = errors.New("generated archive exceeds size limit")

// UnsafeError reports a hostile or malformed archive. It is always fatal
// and never retried.
type UnsafeError struct {
	// Reason describes why the archive was rejected.
	Reason string
	// Entry is the offending entry name, when the rejection is per-entry.
	Entry string
}

func (e *UnsafeError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("unsafe archive: %s (entry %q)", e.Reason, e.Entry)
	}
	return "unsafe archive: " + e.Reason
}

// Extractor unpacks vetted zip archives.
type Extractor struct {
	// MaxTotalSize caps the summed uncompressed entry sizes. Zero means
	// MaxUncompressedSize.
	MaxTotalSize int64
}

// Extract unpacks the archive at archivePath into destDir after vetting
// every entry. destDir must already exist and be exclusively owned by the
// caller. On any error the caller must treat destDir as unusable.
func (e *Extractor) Extract(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return &UnsafeError{Reason: fmt.Sprintf("cannot read zip: %v", err)}
	}
	defer reader.Close()

	if err := e.check(&reader.Reader, destDir); err != nil {
		return err
	}

	for _, file := range reader.File {
		if err := extractEntry(file, destDir); err != nil {
			return err
		}
	}
	return nil
}

// check vets the central directory without reading any entry data.
func (e *Extractor) check(reader *zip.Reader, destDir string) error {
	maxTotal := e.MaxTotalSize
	if maxTotal == 0 {
		maxTotal = MaxUncompressedSize
	}

	var total int64
	for _, file := range reader.File {
		total += int64(file.UncompressedSize64)
	}
	if total > maxTotal {
		return &UnsafeError{Reason: fmt.Sprintf("total uncompressed size %d exceeds limit %d", total, maxTotal)}
	}

	for _, file := range reader.File {
		if err := checkEntryName(file.Name, destDir); err != nil {
			return err
		}
	}
	return nil
}

// checkEntryName rejects entry names containing control characters and
// names whose resolved path escapes destDir.
func checkEntryName(name, destDir string) error {
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return &UnsafeError{Reason: "entry name contains control characters", Entry: name}
		}
	}

	if filepath.IsAbs(name) || filepath.IsAbs(filepath.FromSlash(name)) {
		return &UnsafeError{Reason: "absolute entry path", Entry: name}
	}

	resolved := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &UnsafeError{Reason: "entry path escapes destination", Entry: name}
	}
	return nil
}

func extractEntry(file *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(file.Name))

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return &UnsafeError{Reason: fmt.Sprintf("cannot open entry: %v", err), Entry: file.Name}
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	// The central directory declared this size; refuse streams that lie.
	limit := int64(file.UncompressedSize64) + 1
	written, err := io.Copy(dst, io.LimitReader(src, limit))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if written > int64(file.UncompressedSize64) {
		return &UnsafeError{Reason: "entry larger than declared size", Entry: file.Name}
	}
	return nil
}

// Create archives the contents of dir into a zip at zipPath, storing every
// file under prefix. VCS metadata directories are skipped. If the result
// exceeds maxSize the file is removed and ErrGeneratedTooLarge returned;
// a zero maxSize means MaxGeneratedSize.
func Create(zipPath, dir, prefix string, maxSize int64) error {
	if maxSize == 0 {
		maxSize = MaxGeneratedSize
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}

	w := zip.NewWriter(out)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		entry, err := w.Create(prefix + "/" + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, src)
		if closeErr := src.Close(); err == nil {
			err = closeErr
		}
		return err
	})

	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(zipPath)
		return err
	}

	stat, err := os.Stat(zipPath)
	if err != nil {
		return err
	}
	if stat.Size() > maxSize {
		_ = os.Remove(zipPath)
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrGeneratedTooLarge, stat.Size(), maxSize)
	}
	return nil
}
