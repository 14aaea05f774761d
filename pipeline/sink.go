package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/permapay/permapay/types"
)

// ChunkSink stages chunk bytes for an upload until the file is complete.
// Staging is keyed by chunk index: writing an index twice replaces the
// earlier bytes, so a duplicate submission that loses the ordering race
// cannot leave duplicated data in the assembled file.
type ChunkSink interface {
	Append(ctx context.Context, uploadID string, chunk int, data []byte) error
	// Assemble concatenates the staged chunks in index order into a single
	// file and returns its path.
	Assemble(ctx context.Context, uploadID string, totalChunks int) (string, error)
	Remove(ctx context.Context, uploadID string) error
}

// Uploader ships an assembled file to the permanent-storage network and
// returns its content id.
type Uploader interface {
	Upload(ctx context.Context, filePath string, tags []types.Tag) (string, error)
}

// BundleItem is one entry in a bulk upload.
type BundleItem struct {
	FilePath string
	Tags     []types.Tag
}

// Bundler is an optional Uploader capability: shipping several items to the
// storage network as a single bundle.
type Bundler interface {
	Bundle(ctx context.Context, items []BundleItem) (string, error)
}

// NewFileSink builds a sink that stages each upload under its own
// subdirectory of dir.
func NewFileSink(dir string) (ChunkSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload staging dir: %w", err)
	}
	return &fileSink{dir: dir}, nil
}

type fileSink struct {
	dir string
}

func (s *fileSink) Append(_ context.Context, uploadID string, chunk int, data []byte) error {
	if err := os.MkdirAll(s.uploadDir(uploadID), 0o755); err != nil {
		return fmt.Errorf("creating staging dir for upload %s: %w", uploadID, err)
	}
	if err := os.WriteFile(s.chunkPath(uploadID, chunk), data, 0o644); err != nil {
		return fmt.Errorf("staging chunk %d of upload %s: %w", chunk, uploadID, err)
	}
	return nil
}

func (s *fileSink) Assemble(_ context.Context, uploadID string, totalChunks int) (string, error) {
	path := filepath.Join(s.uploadDir(uploadID), "data")
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating assembled file for upload %s: %w", uploadID, err)
	}
	defer out.Close()
	for i := 0; i < totalChunks; i++ {
		data, err := os.ReadFile(s.chunkPath(uploadID, i))
		if err != nil {
			return "", fmt.Errorf("reading chunk %d of upload %s: %w", i, uploadID, err)
		}
		if _, err := out.Write(data); err != nil {
			return "", fmt.Errorf("assembling upload %s: %w", uploadID, err)
		}
	}
	return path, nil
}

func (s *fileSink) Remove(_ context.Context, uploadID string) error {
	return os.RemoveAll(s.uploadDir(uploadID))
}

func (s *fileSink) uploadDir(uploadID string) string {
	return filepath.Join(s.dir, filepath.Base(uploadID))
}

func (s *fileSink) chunkPath(uploadID string, chunk int) string {
	return filepath.Join(s.uploadDir(uploadID), fmt.Sprintf("%08d.chunk", chunk))
}
