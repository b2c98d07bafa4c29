package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"project-tachyon/internal/storage"
)

// SmartOrganizer routes a completed, manually-fetched download into a
// category subfolder of its save directory. Modpack installs bypass
// this entirely — instance layout is dictated by
// internal/runtimepath.InstancePath instead — but a one-off fetch made
// through the control API (not part of any instance) still benefits
// from the same by-extension sorting the control surface exposes.
type SmartOrganizer struct {
	enableSmartSorting bool
}

func NewSmartOrganizer() *SmartOrganizer {
	return &SmartOrganizer{enableSmartSorting: true}
}

// GetCategory returns the category for a given filename based on extension.
func GetCategory(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg":
		return "Images"
	case ".mp4", ".mkv", ".mov", ".avi", ".webm", ".wmv":
		return "Videos"
	case ".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a":
		return "Music"
	case ".zip", ".rar", ".7z", ".tar", ".gz", ".iso":
		return "Archives"
	case ".pdf", ".docx", ".xlsx", ".pptx", ".txt", ".md":
		return "Documents"
	case ".exe", ".msi", ".dmg", ".pkg", ".deb":
		return "Software"
	default:
		return "Others"
	}
}

// GetOrganizedPath returns the full path where a file of this name
// should live under baseDir once categorized.
func GetOrganizedPath(baseDir, filename string) string {
	return filepath.Join(baseDir, GetCategory(filename), filename)
}

// OrganizeFile moves a completed download into its category subfolder,
// renaming around any name collision at the destination.
func (o *SmartOrganizer) OrganizeFile(task *storage.DownloadTask) (string, error) {
	if !o.enableSmartSorting {
		return task.SavePath, nil
	}

	baseDir := filepath.Dir(task.SavePath)
	targetDir := filepath.Join(baseDir, GetCategory(task.Filename))
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return task.SavePath, fmt.Errorf("failed to create category dir: %w", err)
	}

	targetPath := FindAvailablePath(filepath.Join(targetDir, task.Filename))
	if err := os.Rename(task.SavePath, targetPath); err != nil {
		return task.SavePath, fmt.Errorf("failed to move file: %w", err)
	}
	return targetPath, nil
}

// FindAvailablePath appends " (n)" before the extension until it finds
// a path that doesn't already exist, matching Windows Explorer/most
// browsers' collision-naming convention.
func FindAvailablePath(basePath string) string {
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return basePath
	}

	ext := filepath.Ext(basePath)
	dir := filepath.Dir(basePath)
	nameOnly := strings.TrimSuffix(filepath.Base(basePath), ext)

	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", nameOnly, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameOnly, 9999, ext))
}
