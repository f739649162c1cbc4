package worker

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactWriter stores rendered images as <job-id>.png in a directory
type ArtifactWriter struct {
	dir string
}

func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Write replaces any earlier image for the job atomically and returns its path
func (a *ArtifactWriter) Write(jobID string, png []byte) (string, error) {
	path := filepath.Join(a.dir, jobID+".png")

	tmp, err := os.CreateTemp(a.dir, jobID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(png); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store image file: %w", err)
	}
	return path, nil
}
