package raster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
)

// ErrUnreadable is returned when a raster source cannot be opened or read.
var ErrUnreadable = errors.New("raster unreadable")

// Reader reads the pixels of a raster file that fall inside a bounding box.
// Pixels of the window that lie outside the file's extent must be NoData.
type Reader interface {
	ReadWindow(ctx context.Context, path string, bbox domain.BBox) (*Grid, error)
}

// Config holds the processing parameters shared by every frame.
type Config struct {
	NormMethod NormMethod
	NormParams NormParams
	FillMethod FillMethod
	TargetRows int
	TargetCols int
	// Workers bounds how many frames of a sequence are processed concurrently.
	Workers int
}

// ProcessOptions toggles the stages applied after clipping.
type ProcessOptions struct {
	FillMissing bool
	Normalize   bool
	Resample    bool
}

// AllStages enables every processing stage.
var AllStages = ProcessOptions{FillMissing: true, Normalize: true, Resample: true}

// Option customizes a Processor.
type Option func(*Processor)

// WithExistsFunc replaces the file existence check used to filter sequence paths.
func WithExistsFunc(fn func(path string) bool) Option {
	return func(p *Processor) {
		p.exists = fn
	}
}

// WithFrameCache caches processed frames in an LRU of maxEntries. observe, if
// non-nil, is called with true on a hit and false on a miss.
func WithFrameCache(maxEntries int, observe func(hit bool)) Option {
	return func(p *Processor) {
		if maxEntries > 0 {
			p.cache = newFrameCache(maxEntries)
			p.observeCache = observe
		}
	}
}

// Processor clips, fills, normalizes and resamples raster frames.
type Processor struct {
	reader       Reader
	cfg          Config
	logger       *slog.Logger
	exists       func(path string) bool
	cache        *frameCache
	observeCache func(hit bool)
}

// NewProcessor creates a Processor reading rasters through reader.
func NewProcessor(reader Reader, cfg Config, logger *slog.Logger, opts ...Option) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	p := &Processor{
		reader: reader,
		cfg:    cfg,
		logger: logger,
		exists: fileExists,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Clip reads the bbox window of the raster at path. Nodata-like values are
// rewritten to the NoData sentinel.
func (p *Processor) Clip(ctx context.Context, path string, bbox domain.BBox) (*Grid, error) {
	g, err := p.reader.ReadWindow(ctx, path, bbox)
	if err != nil {
		if errors.Is(err, ErrUnreadable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	g.sanitize()
	return g, nil
}

// ProcessSingle runs clip, fill, normalize and resample in that order, skipping
// any stage disabled in opts.
func (p *Processor) ProcessSingle(ctx context.Context, path string, bbox domain.BBox, opts ProcessOptions) (*Grid, error) {
	key := frameKey(path, bbox, opts)
	if p.cache != nil {
		if g, ok := p.cache.get(key); ok {
			p.observe(true)
			return g, nil
		}
		p.observe(false)
	}

	p.logger.Debug("processing raster", "path", path, "bbox", bbox.Key())

	g, err := p.Clip(ctx, path, bbox)
	if err != nil {
		return nil, err
	}
	if opts.FillMissing {
		if g, err = FillMissing(g, p.cfg.FillMethod); err != nil {
			return nil, err
		}
	}
	if opts.Normalize {
		if g, err = Normalize(g, p.cfg.NormMethod, p.cfg.NormParams); err != nil {
			return nil, err
		}
	}
	if opts.Resample {
		if g, err = Resample(g, p.cfg.TargetRows, p.cfg.TargetCols); err != nil {
			return nil, err
		}
	}

	if p.cache != nil {
		p.cache.put(key, g)
	}
	return g, nil
}

func (p *Processor) observe(hit bool) {
	if p.observeCache != nil {
		p.observeCache(hit)
	}
}

func frameKey(path string, bbox domain.BBox, opts ProcessOptions) string {
	return fmt.Sprintf("%s|%s|%t%t%t", path, bbox.Key(), opts.FillMissing, opts.Normalize, opts.Resample)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
