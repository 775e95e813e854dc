package raster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
)

// Sequence is a stack of equally shaped frames with a trailing singleton
// channel, i.e. a [Steps, Rows, Cols, 1] tensor in row-major order.
type Sequence struct {
	Steps int
	Rows  int
	Cols  int
	Data  []float64
}

// NewSequence stacks frames in the order given. All frames must share a shape.
func NewSequence(frames []*Grid) (*Sequence, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("sequence needs at least one frame")
	}
	rows, cols := frames[0].Rows, frames[0].Cols
	s := &Sequence{Steps: len(frames), Rows: rows, Cols: cols, Data: make([]float64, 0, len(frames)*rows*cols)}
	for i, f := range frames {
		if f.Rows != rows || f.Cols != cols {
			return nil, fmt.Errorf("frame %d has shape %dx%d, want %dx%d", i, f.Rows, f.Cols, rows, cols)
		}
		s.Data = append(s.Data, f.Data...)
	}
	return s, nil
}

// Shape returns the tensor shape [Steps, Rows, Cols, 1].
func (s *Sequence) Shape() [4]int {
	return [4]int{s.Steps, s.Rows, s.Cols, 1}
}

// Frame returns a copy of frame t.
func (s *Sequence) Frame(t int) *Grid {
	n := s.Rows * s.Cols
	g := NewGrid(s.Rows, s.Cols)
	copy(g.Data, s.Data[t*n:(t+1)*n])
	return g
}

// Last returns a copy of the most recent frame.
func (s *Sequence) Last() *Grid {
	return s.Frame(s.Steps - 1)
}

// At returns the value at step t, row r, column c.
func (s *Sequence) At(t, r, c int) float64 {
	return s.Data[(t*s.Rows+r)*s.Cols+c]
}

// MeanSeries returns the spatial mean of each frame, oldest first.
func (s *Sequence) MeanSeries() []float64 {
	n := s.Rows * s.Cols
	out := make([]float64, s.Steps)
	for t := range out {
		out[t] = stat.Mean(s.Data[t*n:(t+1)*n], nil)
	}
	return out
}

// BuildTemporalSequence processes the last length usable paths, in the order
// given, into a Sequence. Paths that do not exist or fail to read are skipped
// and earlier paths take their place. It returns false, never an error, when
// fewer than length frames can be produced.
func (p *Processor) BuildTemporalSequence(ctx context.Context, paths []string, length int, bbox domain.BBox) (*Sequence, bool) {
	if length <= 0 {
		return nil, false
	}

	candidates := make([]string, 0, len(paths))
	for _, path := range paths {
		if path != "" && p.exists(path) {
			candidates = append(candidates, path)
		}
	}
	if len(candidates) < length {
		p.logger.Warn("not enough rasters for sequence",
			"available", len(candidates),
			"sequence_length", length,
		)
		return nil, false
	}

	frames := make(map[int]*Grid, length)
	next := len(candidates) - 1
	for len(frames) < length && next >= 0 {
		need := length - len(frames)
		lo := max(0, next-need+1)
		p.processRange(ctx, candidates, lo, next, bbox, frames)
		next = lo - 1
	}
	if ctx.Err() != nil || len(frames) < length {
		p.logger.Warn("not enough readable rasters for sequence",
			"readable", len(frames),
			"sequence_length", length,
		)
		return nil, false
	}

	ordered := make([]*Grid, 0, length)
	for i := 0; i < len(candidates); i++ {
		if g, ok := frames[i]; ok {
			ordered = append(ordered, g)
		}
	}
	seq, err := NewSequence(ordered)
	if err != nil {
		p.logger.Warn("inconsistent frame shapes", "error", err)
		return nil, false
	}
	return seq, true
}

// processRange processes candidates[lo..hi] concurrently, storing each
// successful frame by index. Failed frames are logged and left out.
func (p *Processor) processRange(ctx context.Context, candidates []string, lo, hi int, bbox domain.BBox, frames map[int]*Grid) {
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i := lo; i <= hi; i++ {
		g.Go(func() error {
			frame, err := p.ProcessSingle(gCtx, candidates[i], bbox, AllStages)
			if err != nil {
				p.logger.Warn("skipping unreadable raster", "path", candidates[i], "error", err)
				// Per-frame failures must not cancel sibling frames.
				return nil
			}
			mu.Lock()
			frames[i] = frame
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// Window is one training sequence drawn from the raster catalog.
type Window struct {
	Paths     []string
	StartDate time.Time
	EndDate   time.Time
	DataType  domain.DataType
}

// SlidingWindows enumerates consecutive windows of length usable assets,
// advancing by stride. Assets must already be in chronological order.
func SlidingWindows(assets []domain.RasterAsset, length, stride int) []Window {
	if length <= 0 || stride <= 0 {
		return nil
	}
	usable := make([]domain.RasterAsset, 0, len(assets))
	for _, a := range assets {
		if a.Usable() {
			usable = append(usable, a)
		}
	}

	var windows []Window
	for i := 0; i+length <= len(usable); i += stride {
		chunk := usable[i : i+length]
		paths := make([]string, len(chunk))
		for j, a := range chunk {
			paths[j] = a.FilePath
		}
		windows = append(windows, Window{
			Paths:     paths,
			StartDate: chunk[0].StartDate,
			EndDate:   chunk[len(chunk)-1].EndDate,
			DataType:  chunk[0].DataType,
		})
	}
	return windows
}
