package reporter

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportFileName returns the file name a report is persisted under.
func ReportFileName(runID string) string {
	return "report-" + runID + ".json"
}

// WriteJSON persists the report as indented JSON in dir and returns the path
// and the SHA-256 of the written bytes.
func WriteJSON(rep Report, dir string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(dir, ReportFileName(rep.RunID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write report: %w", err)
	}

	h := sha256.Sum256(data)
	return path, hex.EncodeToString(h[:]), nil
}

// ArchiveManifest is written into every archive as manifest.json.
type ArchiveManifest struct {
	Version     string        `json:"version"`
	RunID       string        `json:"run_id"`
	CreatedAt   time.Time     `json:"created_at"`
	ToolVersion string        `json:"tool_version"`
	Files       []ArchiveFile `json:"files"`
}

// ArchiveFile records a file included in an archive.
type ArchiveFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// ExportArchive zips the regular files of dir into dir+".zip", adding a
// manifest with per-file hashes. Subdirectories are skipped.
func ExportArchive(dir, runID, toolVersion string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	zipPath := filepath.Clean(dir) + ".zip"
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create zip: %w", err)
	}
	defer zipFile.Close()

	w := zip.NewWriter(zipFile)
	defer w.Close()

	base := filepath.Base(filepath.Clean(dir))
	files := []ArchiveFile{}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		zf, err := w.Create(base + "/" + entry.Name())
		if err != nil {
			return "", fmt.Errorf("zip create %s: %w", entry.Name(), err)
		}
		if _, err := zf.Write(content); err != nil {
			return "", fmt.Errorf("zip write %s: %w", entry.Name(), err)
		}

		h := sha256.Sum256(content)
		files = append(files, ArchiveFile{
			Name:   entry.Name(),
			SHA256: hex.EncodeToString(h[:]),
			Size:   int64(len(content)),
		})
	}

	manifest := ArchiveManifest{
		Version:     "1.0",
		RunID:       runID,
		CreatedAt:   time.Now().UTC(),
		ToolVersion: toolVersion,
		Files:       files,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	zf, err := w.Create(base + "/manifest.json")
	if err != nil {
		return "", fmt.Errorf("zip create manifest: %w", err)
	}
	if _, err := zf.Write(data); err != nil {
		return "", fmt.Errorf("zip write manifest: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return "", fmt.Errorf("close zip file: %w", err)
	}

	return zipPath, nil
}
