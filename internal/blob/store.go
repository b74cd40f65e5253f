// Package blob provides the object store gateway. Artifacts (images,
// audio, video) live in an S3-compatible bucket; the database only ever
// holds their blob URLs.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aicg/aicg/internal/models"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Store is the object store gateway.
type Store interface {
	// Put uploads data under key and returns the canonical blob URL.
	// Re-uploading identical bytes to an existing key is a no-op.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get fetches the full object.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Presign returns a time-limited HTTP URL for the object.
	Presign(ctx context.Context, key string) (string, error)
	// DownloadTo streams the object into a local file.
	DownloadTo(ctx context.Context, key, path string) error
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds the bucket key for a new artifact:
// {project_id}/{artifact_type}/{uuid}.{ext}.
func ObjectKey(projectID models.ULID, artifactType models.ResourceType, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%s/%s.%s", projectID, artifactType, uuid.NewString(), ext)
}

// URLScheme prefixes every canonical blob URL.
const URLScheme = "blob://"

// URLFor builds the canonical blob URL stored in the database.
func URLFor(bucket, key string) string {
	return URLScheme + bucket + "/" + key
}

// KeyFromURL splits a canonical blob URL into bucket and key.
func KeyFromURL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, URLScheme)
	if !ok {
		return "", "", fmt.Errorf("not a blob URL: %q", url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed blob URL: %q", url)
	}
	return bucket, key, nil
}

// DetectImageExt sniffs image bytes and returns the file extension.
// Recognizes PNG, JPEG and WebP; anything else falls back to "bin".
func DetectImageExt(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		switch format {
		case "jpeg":
			return "jpg"
		default:
			return format
		}
	}
	// Non-image payloads still get a sensible extension for audio/video.
	switch http.DetectContentType(data) {
	case "audio/mpeg":
		return "mp3"
	case "audio/wave":
		return "wav"
	case "video/mp4":
		return "mp4"
	}
	return "bin"
}
