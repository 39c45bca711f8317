package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/internal/validate"
)

// chunkSize bounds how much text is embedded per document chunk.
const chunkSize = 2000

// UploadResult describes a completed upload-and-ingest.
type UploadResult struct {
	FileID     string
	Path       string
	ChunkCount int
}

// Uploader writes uploaded bytes under the deployment data root and feeds
// them into the retrieval layer's edubba namespace.
type Uploader struct {
	dataRoot string
	layer    *Layer
	log      *logging.Logger
}

// NewUploader builds an uploader rooted at dataRoot (uploads land in
// {dataRoot}/uploads/{userId}/).
func NewUploader(dataRoot string, layer *Layer, log *logging.Logger) *Uploader {
	return &Uploader{dataRoot: dataRoot, layer: layer, log: log}
}

// Upload writes body under uploads/{userId}/{filename}, refusing any
// resolution outside that root, then chunks and ingests the content.
func (u *Uploader) Upload(ctx context.Context, userID, rawFilename string, body []byte) (*UploadResult, error) {
	filename := validate.SanitizeFilename(rawFilename)

	userDir := filepath.Join("uploads", userID)
	relPath := filepath.Join(userDir, filename)

	resolved, err := validate.ResolveUnder(u.dataRoot, relPath)
	if err != nil {
		if u.log != nil {
			u.log.WithField("user_id", userID).WithField("filename", rawFilename).
				Warn("UPLOAD_TRAVERSAL")
		}
		return nil, fmt.Errorf("retrieval: upload resolves outside data root: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(resolved, body, 0o640); err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	chunks := chunkText(body)

	if u.layer != nil && len(chunks) > 0 {
		if err := u.layer.Ingest(ctx, userID, "edubba", chunks, map[string]any{"fileId": fileID}); err != nil {
			return nil, err
		}
	}

	return &UploadResult{FileID: fileID, Path: resolved, ChunkCount: len(chunks)}, nil
}

// chunkText splits body into UTF-8-safe chunks of at most chunkSize bytes,
// dropping anything that is not valid UTF-8 text.
func chunkText(body []byte) []string {
	if !utf8.Valid(body) {
		return nil
	}
	text := string(bytes.TrimSpace(body))
	if text == "" {
		return nil
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}
		cut := chunkSize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if idx := strings.LastIndexByte(text[:cut], '\n'); idx > chunkSize/2 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = text[cut:]
	}
	return chunks
}
