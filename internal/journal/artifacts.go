package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ArtifactStore persists rendered journal documents.
type ArtifactStore interface {
	Save(ctx context.Context, ownerID int64, at time.Time, content string) (string, error)
	Read(ctx context.Context, path string) (string, error)
}

// FileArtifacts writes documents under root/<date>/. File names carry the
// owner, a microsecond timestamp and a random suffix, and are created with
// O_EXCL so an existing document is never overwritten.
type FileArtifacts struct {
	root string
}

func NewFileArtifacts(root string) *FileArtifacts {
	return &FileArtifacts{root: root}
}

const saveAttempts = 3

func (f *FileArtifacts) Save(_ context.Context, ownerID int64, at time.Time, content string) (string, error) {
	at = at.UTC()
	dir := filepath.Join(f.root, at.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	for attempt := 0; attempt < saveAttempts; attempt++ {
		name := fmt.Sprintf("journal_owner%d_%s_%s.md",
			ownerID, at.Format("150405.000000"), uuid.NewString()[:8])
		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create artifact: %w", err)
		}
		if _, err := file.WriteString(content); err != nil {
			file.Close()
			return "", fmt.Errorf("write artifact: %w", err)
		}
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("close artifact: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("create artifact: no free name after %d attempts", saveAttempts)
}

func (f *FileArtifacts) Read(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return string(data), nil
}
