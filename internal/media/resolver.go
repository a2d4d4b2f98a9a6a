// Package media resolves opaque media ids into local files, once per id per
// session.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/matheus3301/albumchat/internal/bus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned once the resolver has been torn down.
var ErrClosed = errors.New("media resolver closed")

// Downloader fetches the content of an uploaded file by id.
type Downloader interface {
	Download(ctx context.Context, mediaID string) (data []byte, contentType string, err error)
}

// Handle is a locally renderable copy of a media item.
type Handle struct {
	MediaID     string
	ContentType string
	Path        string
	Size        int64
	Local       bool // created from an upload preview rather than a download
}

// IsImage reports whether the content is an image.
func (h Handle) IsImage() bool { return strings.HasPrefix(h.ContentType, "image/") }

// IsVideo reports whether the content is a video.
func (h Handle) IsVideo() bool { return strings.HasPrefix(h.ContentType, "video/") }

// Resolver caches downloaded media for the lifetime of a chat session.
// Entries are never invalidated; failures are not cached.
type Resolver struct {
	dl     Downloader
	bus    *bus.Bus
	logger *zap.Logger
	dir    string
	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu       sync.RWMutex
	cache    map[string]Handle
	previews map[string]Handle
	closed   bool
}

// NewResolver creates a resolver that stores files in a fresh directory
// under parentDir. The directory is removed by Close.
func NewResolver(dl Downloader, parentDir string, b *bus.Bus, logger *zap.Logger) (*Resolver, error) {
	if err := os.MkdirAll(parentDir, 0700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	dir, err := os.MkdirTemp(parentDir, "media-*")
	if err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		dl:       dl,
		bus:      b,
		logger:   logger,
		dir:      dir,
		ctx:      ctx,
		cancel:   cancel,
		cache:    make(map[string]Handle),
		previews: make(map[string]Handle),
	}, nil
}

// Dir returns the directory holding this session's media files.
func (r *Resolver) Dir() string {
	return r.dir
}

// Lookup returns the cached handle for mediaID without fetching.
func (r *Resolver) Lookup(mediaID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.cache[mediaID]
	return h, ok
}

// LocalPreview returns the upload preview registered for mediaID.
func (r *Resolver) LocalPreview(mediaID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.previews[mediaID]
	return h, ok
}

// Resolve returns the handle for mediaID, downloading it on the first call.
// Concurrent calls for the same id share one download.
func (r *Resolver) Resolve(ctx context.Context, mediaID string) (Handle, error) {
	if mediaID == "" {
		return Handle{}, errors.New("empty media id")
	}

	r.mu.RLock()
	h, ok := r.cache[mediaID]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return h, nil
	}
	if closed {
		return Handle{}, ErrClosed
	}

	ch := r.group.DoChan(mediaID, func() (any, error) {
		return r.fetch(mediaID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}
}

func (r *Resolver) fetch(mediaID string) (Handle, error) {
	if h, ok := r.Lookup(mediaID); ok {
		return h, nil
	}

	data, contentType, err := r.dl.Download(r.ctx, mediaID)
	if err != nil {
		r.logger.Warn("media download failed", zap.String("media_id", mediaID), zap.Error(err))
		return Handle{}, fmt.Errorf("download %s: %w", mediaID, err)
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return Handle{}, ErrClosed
	}

	h, err := r.writeFile(mediaID, "", data, contentType)
	if err != nil {
		return Handle{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = os.Remove(h.Path)
		return Handle{}, ErrClosed
	}
	r.cache[mediaID] = h
	r.mu.Unlock()

	r.logger.Debug("media resolved", zap.String("media_id", mediaID), zap.Int64("size", h.Size))
	r.bus.Emit(bus.KindMediaResolved, h)
	return h, nil
}

// Preview registers locally held content for a freshly uploaded media id so
// the sender can show it before any round trip. Previews never populate the
// download cache.
func (r *Resolver) Preview(mediaID string, data []byte, contentType string) (Handle, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return Handle{}, ErrClosed
	}

	h, err := r.writeFile(mediaID, "preview-", data, contentType)
	if err != nil {
		return Handle{}, err
	}
	h.Local = true

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = os.Remove(h.Path)
		return Handle{}, ErrClosed
	}
	r.previews[mediaID] = h
	return h, nil
}

// Close drops every cached handle, cancels in-flight downloads and removes
// the media directory. Safe to call more than once.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cache = make(map[string]Handle)
	r.previews = make(map[string]Handle)
	r.mu.Unlock()

	r.cancel()
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("remove media dir: %w", err)
	}
	return nil
}

// fileName maps each media id to a distinct file name.
func fileName(mediaID string) string {
	sum := sha256.Sum256([]byte(mediaID))
	return hex.EncodeToString(sum[:])
}

func (r *Resolver) writeFile(mediaID, prefix string, data []byte, contentType string) (Handle, error) {
	name := prefix + fileName(mediaID)
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		name += exts[0]
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return Handle{}, fmt.Errorf("write media file: %w", err)
	}
	return Handle{
		MediaID:     mediaID,
		ContentType: contentType,
		Path:        path,
		Size:        int64(len(data)),
	}, nil
}
