package vision

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG templates
	_ "image/png"  // PNG templates
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Matcher defaults.
const (
	DefaultThreshold = 0.8
	DefaultCacheSize = 1024
)

// minScaledSide is the smallest template side kept after scaling.
const minScaledSide = 2

// MatchResult is the outcome of one template lookup.
//
// Found is exactly Confidence >= threshold for the threshold used in the
// call, and Location is nil iff Found is false.
type MatchResult struct {
	Found bool

	// Location is the centre of the best window in frame coordinates.
	Location *image.Point

	// Confidence is the best NCC score clamped to [0, 1].
	Confidence float64
}

// Config holds matcher settings.
type Config struct {
	// ImagesDir is where template names that are not existing paths are
	// resolved.
	ImagesDir string

	// Threshold is used when a call passes threshold <= 0. Default: 0.8.
	Threshold float64

	// CacheSize bounds the number of decoded templates kept. Default: 1024.
	CacheSize int

	// Stride and Refine control the coarse scan. See nccOptions.
	Stride int
	Refine bool

	// UseRGB scores each colour channel instead of luma.
	UseRGB bool

	// Scales are extra template scale factors to try besides 1.0.
	Scales []float64

	// Concurrency bounds FindMany. Default: runtime.NumCPU().
	Concurrency int
}

// Logger defines the logging interface for the matcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Template is a decoded reference image. It is immutable once cached.
type Template struct {
	// Path is the resolved file path the template was loaded from.
	Path string

	variants []scaledTemplate
}

type scaledTemplate struct {
	scale float64
	img   *image.RGBA
}

// Bounds returns the bounds of the unscaled template.
func (t *Template) Bounds() image.Rectangle {
	return t.variants[0].img.Bounds()
}

// Matcher finds templates in frames.
//
// Thread Safety:
//   - All methods are safe for concurrent use. A template is decoded at
//     most once per cache residency even under concurrent lookups.
type Matcher struct {
	cfg    Config
	cache  *lru.Cache[string, *Template]
	group  singleflight.Group
	loads  atomic.Int64
	logger Logger
}

// NewMatcher creates a matcher. A missing images directory is logged as a
// warning; lookups under it will simply fail to load.
func NewMatcher(cfg Config, logger Logger) (*Matcher, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if logger == nil {
		logger = noopLogger{}
	}

	cache, err := lru.New[string, *Template](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating template cache: %w", err)
	}

	if cfg.ImagesDir != "" {
		if info, err := os.Stat(cfg.ImagesDir); err != nil || !info.IsDir() {
			logger.Warn("images directory not found", "dir", cfg.ImagesDir)
		}
	}

	return &Matcher{
		cfg:    cfg,
		cache:  cache,
		logger: logger,
	}, nil
}

// Threshold returns the default match threshold.
func (m *Matcher) Threshold() float64 {
	return m.cfg.Threshold
}

// Resolve maps a template name to a file path: the name itself if it is
// an existing path, otherwise the name joined to the images directory.
func (m *Matcher) Resolve(name string) string {
	if _, err := os.Stat(name); err == nil || filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(m.cfg.ImagesDir, name)
}

// Template returns the cached template for name, loading it on first use.
// Failures wrap ErrTemplateLoad.
func (m *Matcher) Template(name string) (*Template, error) {
	path := m.Resolve(name)
	if t, ok := m.cache.Get(path); ok {
		return t, nil
	}

	v, err, _ := m.group.Do(path, func() (any, error) {
		if t, ok := m.cache.Get(path); ok {
			return t, nil
		}
		t, err := m.load(path)
		if err != nil {
			return nil, err
		}
		m.cache.Add(path, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// CacheLen returns the number of cached templates.
func (m *Matcher) CacheLen() int {
	return m.cache.Len()
}

// Loads returns how many times a template file has been decoded.
func (m *Matcher) Loads() int64 {
	return m.loads.Load()
}

func (m *Matcher) load(path string) (*Template, error) {
	m.loads.Add(1)

	f, err := os.Open(path) //nolint:gosec // Template paths come from the bot script
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateLoad, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrTemplateLoad, path, err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: %s is empty", ErrTemplateLoad, path)
	}

	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), src, b.Min, draw.Src)

	t := &Template{
		Path:     path,
		variants: []scaledTemplate{{scale: 1, img: base}},
	}
	for _, s := range m.cfg.Scales {
		if s <= 0 || s == 1 {
			continue
		}
		w, h := int(float64(b.Dx())*s), int(float64(b.Dy())*s)
		if w < minScaledSide || h < minScaledSide {
			continue
		}
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), base, base.Bounds(), draw.Src, nil)
		t.variants = append(t.variants, scaledTemplate{scale: s, img: scaled})
	}
	return t, nil
}

// Find looks for the named template in frame. threshold <= 0 uses the
// configured default. A template that cannot be loaded yields a
// not-found result with zero confidence and an error log.
func (m *Matcher) Find(frame *image.RGBA, name string, threshold float64) MatchResult {
	if threshold <= 0 {
		threshold = m.cfg.Threshold
	}

	t, err := m.Template(name)
	if err != nil {
		m.logger.Error("template unavailable", "template", name, "error", err)
		return MatchResult{}
	}

	opts := nccOptions{Stride: m.cfg.Stride, Refine: m.cfg.Refine, UseRGB: m.cfg.UseRGB}

	var (
		best   nccResult
		size   image.Point
		scale  float64
		scored bool
	)
	for _, v := range t.variants {
		res, ok := matchNCC(frame, v.img, opts)
		if !ok {
			continue
		}
		if !scored || res.Score > best.Score {
			best, size, scale, scored = res, v.img.Bounds().Size(), v.scale, true
		}
	}
	if !scored {
		m.logger.Debug("template does not fit frame", "template", name)
		return MatchResult{}
	}

	result := MatchResult{Confidence: clamp01(best.Score)}
	result.Found = result.Confidence >= threshold
	if result.Found {
		result.Location = &image.Point{X: best.X + size.X/2, Y: best.Y + size.Y/2}
	}

	m.logger.Debug("template match",
		"template", name,
		"found", result.Found,
		"confidence", result.Confidence,
		"threshold", threshold,
		"scale", scale,
	)
	return result
}

// FindMany runs Find for every name concurrently. Every name appears in
// the result; names not searched because ctx ended are reported as not
// found.
func (m *Matcher) FindMany(ctx context.Context, frame *image.RGBA, names []string, threshold float64) map[string]MatchResult {
	results := make(map[string]MatchResult, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	for _, name := range names {
		g.Go(func() error {
			var r MatchResult
			if gctx.Err() == nil {
				r = m.Find(frame, name, threshold)
			}
			mu.Lock()
			results[name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // Workers never return errors

	return results
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
