// Package service implements the domain operations behind executor
// stages: script extraction, image and speech generation, transition
// video submission and polling. Each method does exactly one provider
// call plus its persistence, so the task runtime's retry policy applies
// to a single unit of work.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aicg/aicg/internal/blob"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/observability"
	"github.com/aicg/aicg/internal/provider"
	"github.com/aicg/aicg/internal/repository"
)

// maxVideoDownloadBytes bounds provider-hosted video downloads.
const maxVideoDownloadBytes = 512 << 20

// AudioProber measures audio duration. *ffmpeg.Prober implements it.
type AudioProber interface {
	AudioDurationMs(ctx context.Context, path string) (int64, error)
}

// Service bundles the repositories, provider registry and blob store
// behind the domain operations.
type Service struct {
	repos     *repository.Repositories
	providers *provider.Registry
	store     blob.Store
	prober    AudioProber
	logger    *slog.Logger

	httpClient *http.Client
}

// New creates a Service. A nil logger falls back to slog.Default.
func New(repos *repository.Repositories, providers *provider.Registry, store blob.Store, prober AudioProber, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repos:      repos,
		providers:  providers,
		store:      store,
		prober:     prober,
		logger:     observability.WithComponent(logger, "service"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// resolveKey loads an API key and rejects disabled credentials.
func (s *Service) resolveKey(ctx context.Context, keyID models.ULID) (*models.APIKey, error) {
	key, err := s.repos.APIKeys.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !key.IsActive() {
		return nil, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("api key %s is disabled", keyID))
	}
	return key, nil
}

// uploadImage stores generated image bytes and returns the blob URL.
func (s *Service) uploadImage(ctx context.Context, projectID models.ULID, rt models.ResourceType, data []byte, mimeType string) (string, error) {
	ext := blob.DetectImageExt(data)
	key := blob.ObjectKey(projectID, rt, ext)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	url, err := s.store.Put(ctx, key, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", rt, err)
	}
	return url, nil
}

// presign turns a stored blob URL into a provider-fetchable HTTP URL.
// Non-blob URLs (operator-supplied externals) pass through unchanged.
func (s *Service) presign(ctx context.Context, blobURL string) (string, error) {
	_, key, err := blob.KeyFromURL(blobURL)
	if err != nil {
		return blobURL, nil
	}
	return s.store.Presign(ctx, key)
}

// download fetches a provider-hosted result over plain HTTP.
func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.WrapError(models.ErrKindValidation, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, provider.NormalizeTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewError(models.ErrKindProvider,
			fmt.Sprintf("downloading result: unexpected status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoDownloadBytes))
	if err != nil {
		return nil, provider.NormalizeTransportError(err)
	}
	return data, nil
}

// projectIDForScene walks scene -> script -> chapter to the owning project.
func (s *Service) projectIDForScene(ctx context.Context, scene *models.Scene) (models.ULID, error) {
	script, err := s.repos.Scripts.GetByID(ctx, scene.ScriptID)
	if err != nil {
		return models.ULID{}, err
	}
	chapter, err := s.repos.Chapters.GetByID(ctx, script.ChapterID)
	if err != nil {
		return models.ULID{}, err
	}
	return chapter.ProjectID, nil
}
