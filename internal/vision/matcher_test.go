package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type recordLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordLogger) Debug(string, ...any) {}

func (l *recordLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encoding %s: %v", path, err)
	}
	return path
}

func newTestMatcher(t *testing.T, cfg Config) (*Matcher, *recordLogger) {
	t.Helper()
	logger := &recordLogger{}
	m, err := NewMatcher(cfg, logger)
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	return m, logger
}

func TestNewMatcher_Defaults(t *testing.T) {
	m, logger := newTestMatcher(t, Config{ImagesDir: t.TempDir()})

	if m.Threshold() != DefaultThreshold {
		t.Errorf("Threshold() = %v, want %v", m.Threshold(), DefaultThreshold)
	}
	if m.cfg.CacheSize != DefaultCacheSize {
		t.Errorf("CacheSize = %d, want %d", m.cfg.CacheSize, DefaultCacheSize)
	}
	if len(logger.warns) != 0 {
		t.Errorf("unexpected warnings: %v", logger.warns)
	}
}

func TestNewMatcher_MissingImagesDirWarns(t *testing.T) {
	_, logger := newTestMatcher(t, Config{ImagesDir: filepath.Join(t.TempDir(), "absent")})

	if len(logger.warns) != 1 {
		t.Fatalf("warnings = %v, want one", logger.warns)
	}
}

func TestMatcher_Resolve(t *testing.T) {
	dir := t.TempDir()
	existing := writePNG(t, dir, "abs.png", noiseFrame(4, 4))
	m, _ := newTestMatcher(t, Config{ImagesDir: "bots/farm/images"})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "existing path", input: existing, want: existing},
		{name: "bare name", input: "start.png", want: filepath.Join("bots/farm/images", "start.png")},
		{name: "nested name", input: "menu/ok.png", want: filepath.Join("bots/farm/images", "menu", "ok.png")},
		{name: "missing absolute", input: "/nope/x.png", want: "/nope/x.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Resolve(tt.input); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMatcher_FindExact(t *testing.T) {
	dir := t.TempDir()
	frame := noiseFrame(60, 50)
	writePNG(t, dir, "button.png", crop(frame, image.Rect(17, 23, 26, 30)))
	m, _ := newTestMatcher(t, Config{ImagesDir: dir})

	res := m.Find(frame, "button.png", 0)

	if !res.Found {
		t.Fatalf("Find() found = false, confidence %f", res.Confidence)
	}
	if res.Confidence < 0.999 || res.Confidence > 1 {
		t.Errorf("confidence = %f, want ~1", res.Confidence)
	}
	want := image.Pt(17+9/2, 23+7/2)
	if res.Location == nil || *res.Location != want {
		t.Errorf("location = %v, want %v", res.Location, want)
	}
}

func TestMatcher_FoundTracksThreshold(t *testing.T) {
	dir := t.TempDir()
	frame := noiseFrame(60, 50)
	tmpl := crop(frame, image.Rect(5, 5, 15, 15))
	// Damage two pixels so the best score is high but below 1.
	for _, p := range []image.Point{image.Pt(2, 3), image.Pt(7, 8)} {
		c := tmpl.RGBAAt(p.X, p.Y)
		tmpl.SetRGBA(p.X, p.Y, color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255})
	}
	writePNG(t, dir, "damaged.png", tmpl)
	m, _ := newTestMatcher(t, Config{ImagesDir: dir})

	for _, threshold := range []float64{0.1, 0.5, 0.8, 0.95, 1.0} {
		res := m.Find(frame, "damaged.png", threshold)

		if res.Found != (res.Confidence >= threshold) {
			t.Errorf("threshold %v: found = %v with confidence %f", threshold, res.Found, res.Confidence)
		}
		if (res.Location != nil) != res.Found {
			t.Errorf("threshold %v: location = %v with found = %v", threshold, res.Location, res.Found)
		}
		if res.Confidence < 0 || res.Confidence > 1 {
			t.Errorf("threshold %v: confidence %f outside [0,1]", threshold, res.Confidence)
		}
	}

	if res := m.Find(frame, "damaged.png", 1.0); res.Found {
		t.Errorf("damaged template found at threshold 1.0 (confidence %f)", res.Confidence)
	}
}

func TestMatcher_LoadFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "corrupt.png"), []byte("not an image"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, logger := newTestMatcher(t, Config{ImagesDir: dir})
	frame := noiseFrame(20, 20)

	for _, name := range []string{"missing.png", "corrupt.png"} {
		t.Run(name, func(t *testing.T) {
			res := m.Find(frame, name, 0)
			if res.Found || res.Confidence != 0 || res.Location != nil {
				t.Errorf("Find() = %+v, want zero result", res)
			}

			_, err := m.Template(name)
			if !errors.Is(err, ErrTemplateLoad) {
				t.Errorf("Template() error = %v, want ErrTemplateLoad", err)
			}
		})
	}

	if logger.errorCount() != 2 {
		t.Errorf("error logs = %d, want 2", logger.errorCount())
	}
	if m.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d, failed loads must not be cached", m.CacheLen())
	}
}

func TestMatcher_TemplateLargerThanFrame(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "big.png", noiseFrame(30, 30))
	m, _ := newTestMatcher(t, Config{ImagesDir: dir})

	res := m.Find(noiseFrame(20, 20), "big.png", 0)
	if res.Found || res.Confidence != 0 {
		t.Errorf("Find() = %+v, want not found", res)
	}
}

func TestMatcher_CacheReturnsSameTemplate(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "icon.png", noiseFrame(8, 8))
	m, _ := newTestMatcher(t, Config{ImagesDir: dir})

	first, err := m.Template("icon.png")
	if err != nil {
		t.Fatalf("Template() error = %v", err)
	}
	second, err := m.Template(path)
	if err != nil {
		t.Fatalf("Template() error = %v", err)
	}

	if first != second {
		t.Error("lookups by name and by path returned different templates")
	}
	if m.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", m.Loads())
	}
	if first.Path != path {
		t.Errorf("Path = %q, want %q", first.Path, path)
	}
}

func TestMatcher_ConcurrentLookupsDecodeOnce(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "icon.png", noiseFrame(32, 32))
	m, _ := newTestMatcher(t, Config{ImagesDir: dir})

	var wg sync.WaitGroup
	templates := make([]*Template, 32)
	for i := range templates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tmpl, err := m.Template("icon.png")
			if err != nil {
				t.Errorf("Template() error = %v", err)
				return
			}
			templates[i] = tmpl
		}()
	}
	wg.Wait()

	if m.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", m.Loads())
	}
	for i, tmpl := range templates {
		if tmpl != templates[0] {
			t.Errorf("templates[%d] differs from templates[0]", i)
		}
	}
}

func TestMatcher_CacheEviction(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", noiseFrame(4, 4))
	writePNG(t, dir, "b.png", noiseFrame(5, 5))
	m, _ := newTestMatcher(t, Config{ImagesDir: dir, CacheSize: 1})

	for _, name := range []string{"a.png", "b.png", "a.png"} {
		if _, err := m.Template(name); err != nil {
			t.Fatalf("Template(%q) error = %v", name, err)
		}
	}

	if m.CacheLen() != 1 {
		t.Errorf("CacheLen() = %d, want 1", m.CacheLen())
	}
	if m.Loads() != 3 {
		t.Errorf("Loads() = %d, want 3", m.Loads())
	}
}

func TestMatcher_Scales(t *testing.T) {
	dir := t.TempDir()
	frame := noiseFrame(60, 50)
	writePNG(t, dir, "button.png", crop(frame, image.Rect(20, 20, 30, 28)))
	m, _ := newTestMatcher(t, Config{ImagesDir: dir, Scales: []float64{1, 0.5, 2, 0.1, -1}})

	tmpl, err := m.Template("button.png")
	if err != nil {
		t.Fatalf("Template() error = %v", err)
	}

	// 1 is the base variant; 0.1 is too small; -1 is invalid.
	if len(tmpl.variants) != 3 {
		t.Fatalf("variants = %d, want 3", len(tmpl.variants))
	}
	if got := tmpl.variants[2].img.Bounds().Size(); got != image.Pt(20, 16) {
		t.Errorf("2x variant size = %v, want (20,16)", got)
	}
	if tmpl.Bounds().Size() != image.Pt(10, 8) {
		t.Errorf("Bounds() = %v, want 10x8", tmpl.Bounds())
	}

	res := m.Find(frame, "button.png", 0)
	if !res.Found || *res.Location != image.Pt(25, 24) {
		t.Errorf("Find() = %+v, want found at (25,24)", res)
	}
}

func TestMatcher_FindMany(t *testing.T) {
	dir := t.TempDir()
	frame := noiseFrame(60, 50)
	writePNG(t, dir, "play.png", crop(frame, image.Rect(30, 10, 40, 18)))
	m, _ := newTestMatcher(t, Config{ImagesDir: dir, Concurrency: 2})

	names := []string{"play.png", "missing.png"}

	t.Run("all names reported", func(t *testing.T) {
		results := m.FindMany(t.Context(), frame, names, 0)

		if len(results) != len(names) {
			t.Fatalf("len(results) = %d, want %d", len(results), len(names))
		}
		if !results["play.png"].Found {
			t.Errorf("play.png not found: %+v", results["play.png"])
		}
		if r := results["missing.png"]; r.Found || r.Confidence != 0 {
			t.Errorf("missing.png = %+v, want zero result", r)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		results := m.FindMany(ctx, frame, names, 0)
		if len(results) != len(names) {
			t.Fatalf("len(results) = %d, want %d", len(results), len(names))
		}
		for name, r := range results {
			if r.Found {
				t.Errorf("%s found after cancellation", name)
			}
		}
	})
}
