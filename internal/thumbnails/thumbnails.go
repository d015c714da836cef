// Package thumbnails maintains a local preview cache for uploaded images.
// Generation runs on a background queue so the worker loop never waits on
// image decoding; a failed thumbnail never affects the upload outcome.
package thumbnails

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/cloudlift/cloudlift-agent/internal/constants"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/store"
)

// imageExtensions lists the source types worth decoding.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

type job struct {
	recordID   string
	sourcePath string
}

// Generator resizes uploaded images into a cache directory, one worker
// goroutine draining a bounded queue.
type Generator struct {
	cacheDir string
	logger   *logging.Logger

	jobs chan job
	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewGenerator creates a generator caching under dataDir/thumbnails.
func NewGenerator(dataDir string, logger *logging.Logger) *Generator {
	return &Generator{
		cacheDir: filepath.Join(dataDir, "thumbnails"),
		logger:   logger,
		jobs:     make(chan job, constants.ThumbnailQueueSize),
		stop:     make(chan struct{}),
	}
}

// Start launches the background worker. Safe to call once.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}
	if err := os.MkdirAll(g.cacheDir, 0o755); err != nil {
		return err
	}
	g.running = true
	g.wg.Add(1)
	go g.worker()
	return nil
}

// Stop drains nothing and waits for the in-flight job only.
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.mu.Unlock()

	close(g.stop)
	g.wg.Wait()
}

// Enqueue requests a thumbnail for a finished upload. Non-image files and a
// full queue are both silent no-ops.
func (g *Generator) Enqueue(rec *store.UploadRecord) {
	if !IsImage(rec.LocalPath) {
		return
	}
	g.mu.Lock()
	running := g.running
	g.mu.Unlock()
	if !running {
		return
	}

	select {
	case g.jobs <- job{recordID: rec.ID, sourcePath: rec.LocalPath}:
	default:
		g.logger.Debug().Str("record", rec.ID).Msg("thumbnail queue full, skipping")
	}
}

// CachePath returns where the record's thumbnail lives once generated.
func (g *Generator) CachePath(recordID string) string {
	return filepath.Join(g.cacheDir, recordID+".jpg")
}

// IsImage reports whether the path has a decodable image extension.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

func (g *Generator) worker() {
	defer g.wg.Done()
	for {
		select {
		case <-g.stop:
			return
		case j := <-g.jobs:
			g.process(j)
		}
	}
}

func (g *Generator) process(j job) {
	start := time.Now()

	src, err := imaging.Open(j.sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		g.logger.Debug().Err(err).Str("record", j.recordID).Msg("thumbnail decode failed")
		return
	}

	thumb := imaging.Fit(src, constants.ThumbnailMaxEdge, constants.ThumbnailMaxEdge, imaging.Lanczos)
	target := g.CachePath(j.recordID)
	if err := imaging.Save(thumb, target, imaging.JPEGQuality(85)); err != nil {
		g.logger.Debug().Err(err).Str("record", j.recordID).Msg("thumbnail save failed")
		return
	}

	g.logger.Debug().
		Str("record", j.recordID).
		Str("path", target).
		Dur("took", time.Since(start)).
		Msg("thumbnail generated")
}
