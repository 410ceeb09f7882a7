package generation

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
)

const defaultMaxAssetBytes = 64 << 20

// AssetStore persists a generated file and returns its public location.
type AssetStore interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// Materializer copies provider outputs into permanent storage.
type Materializer struct {
	HTTP     *http.Client
	Store    AssetStore
	MaxBytes int64
	Now      func() time.Time
}

// NewMaterializer returns a Materializer uploading into store. A nil store keeps the
// provider URLs as they are.
func NewMaterializer(store AssetStore, client *http.Client) *Materializer {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Materializer{HTTP: client, Store: store, MaxBytes: defaultMaxAssetBytes, Now: time.Now}
}

// Materialize stores every output under <userID>/<jobID>/. Individual failures are logged
// and skipped; ErrNoAssets is returned when none survive.
func (m *Materializer) Materialize(ctx context.Context, userID, jobID string, outputs []string) ([]models.GeneratedAsset, error) {
	logger := logging.FromContext(ctx)

	assets := make([]models.GeneratedAsset, 0, len(outputs))
	for idx, src := range outputs {
		asset, err := m.materializeOne(ctx, userID, jobID, idx, src)
		if err != nil {
			logger.Warn("skipping generated asset", "generation_id", jobID, "index", idx, "source", src, "error", err)
			continue
		}
		assets = append(assets, asset)
	}

	if len(assets) == 0 {
		return nil, fmt.Errorf("%w (%d outputs)", ErrNoAssets, len(outputs))
	}
	return assets, nil
}

func (m *Materializer) materializeOne(ctx context.Context, userID, jobID string, idx int, src string) (models.GeneratedAsset, error) {
	src = NormalizeURL(src)
	if src == "" {
		return models.GeneratedAsset{}, fmt.Errorf("empty output url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return models.GeneratedAsset{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return models.GeneratedAsset{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.GeneratedAsset{}, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	limit := m.MaxBytes
	if limit <= 0 {
		limit = defaultMaxAssetBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return models.GeneratedAsset{}, fmt.Errorf("read download: %w", err)
	}
	if int64(len(data)) > limit {
		return models.GeneratedAsset{}, fmt.Errorf("asset exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return models.GeneratedAsset{}, fmt.Errorf("empty download")
	}

	sum := blake2b.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	contentType := resp.Header.Get("Content-Type")

	location := src
	if m.Store != nil {
		key := fmt.Sprintf("%s/%s/%d-%s%s", userID, jobID, idx, checksum[:16], extensionFor(contentType, src))
		location, err = m.Store.Save(ctx, key, mediaType(contentType), bytes.NewReader(data))
		if err != nil {
			return models.GeneratedAsset{}, fmt.Errorf("upload: %w", err)
		}
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return models.GeneratedAsset{
		GenerationID: jobID,
		UserID:       userID,
		URL:          NormalizeURL(location),
		Checksum:     checksum,
		CreatedAt:    now().UTC(),
	}, nil
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// extensionFor picks a file extension from the content type, then the source path.
func extensionFor(contentType, src string) string {
	if ext, ok := extensions[mediaType(contentType)]; ok {
		return ext
	}
	if u, err := url.Parse(src); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".png"
}

// NormalizeURL adds an https scheme to stored locations that lack one.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	default:
		return "https://" + strings.TrimLeft(raw, "/")
	}
}
