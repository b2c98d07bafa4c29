// Package archive reads and writes the zip archives that carry modpack
// manifests, overrides and exported instances.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Entry describes one file read out of an archive without extracting it.
type Entry struct {
	Name string
	Size int64
}

// List returns the entries of a zip archive without extracting them.
func List(archivePath string) ([]Entry, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Size: int64(f.UncompressedSize64)})
	}
	return entries, nil
}

// ReadFile extracts a single named entry from the archive into memory.
func ReadFile(archivePath, entryName string) ([]byte, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != entryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("entry not found in archive: %s", entryName)
}

// Extract unpacks every file in the archive under destDir, refusing any
// entry whose cleaned path would escape destDir (zip-slip guard).
func Extract(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		if err := extractOne(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractOne(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func safeJoin(base, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(base, name))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(os.PathSeparator)) && cleaned != filepath.Clean(base) {
		return "", fmt.Errorf("illegal archive entry path: %s", name)
	}
	return cleaned, nil
}

// WriteOptions configures WriteZip's file selection.
type WriteOptions struct {
	// ExcludeGlobs skips any root-relative path matching one of these
	// glob patterns (path/filepath.Match syntax, evaluated against both
	// the full slash-separated relative path and its base name, so
	// "*.log" excludes at any depth while "saves/*" excludes the direct
	// children of saves/; a matching directory is skipped together with
	// its whole subtree).
	ExcludeGlobs []string
	// Extras are additional files to add beyond what's under root, keyed
	// by the archive entry name they should be written as.
	Extras map[string]string // entryName -> source path on disk
}

// matchesExclude reports whether rel (a root-relative, slash-separated
// path) matches any of the given glob patterns.
func matchesExclude(globs []string, rel string) bool {
	base := filepath.Base(rel)
	for _, pattern := range globs {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// WriteZip packages everything under root into a new zip at dest,
// skipping excluded root-relative paths and appending any extras.
func WriteZip(dest, root string, opts WriteOptions) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchesExclude(opts.ExcludeGlobs, rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		return addFileToZip(zw, path, rel)
	})
	if err != nil {
		return err
	}

	for entryName, srcPath := range opts.Extras {
		if err := addFileToZip(zw, srcPath, entryName); err != nil {
			return err
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, entryName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.Create(entryName)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
