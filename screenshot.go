package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// screenshotRecorder numbers and stores the captures of one run.
type screenshotRecorder struct {
	dir    string
	prefix string
	seq    int
	paths  []string
	now    func() time.Time
}

func newScreenshotRecorder(dir, orderID string) *screenshotRecorder {
	prefix := unsafeFileChars.ReplaceAllString(orderID, "_")
	if prefix == "" {
		prefix = "run"
	}
	return &screenshotRecorder{dir: dir, prefix: prefix, now: time.Now}
}

// Save writes png as <dir>/<order>_<nn>_<name>_<unixms>.png and remembers the
// path.
func (s *screenshotRecorder) Save(name string, png []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}

	s.seq++
	file := fmt.Sprintf("%s_%02d_%s_%d.png", s.prefix, s.seq, unsafeFileChars.ReplaceAllString(name, "_"), s.now().UnixMilli())
	path := filepath.Join(s.dir, file)
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}

	s.paths = append(s.paths, path)
	return path, nil
}

// Paths returns the stored captures in the order they were taken.
func (s *screenshotRecorder) Paths() []string {
	return append([]string{}, s.paths...)
}

// capture screenshots the page under name. Failures are logged and never stop
// the run.
func (r *run) capture(ctx context.Context, name string) {
	if r.page == nil {
		return
	}
	png, err := r.page.Screenshot(ctx)
	if err == nil {
		_, err = r.shots.Save(name, png)
	}
	if err != nil {
		r.emit(LevelWarning, T("screenshot_failed", name, err))
	}
}
