package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	segmentSeconds = 10
	playlistExt    = ".m3u8"
	segmentExt     = ".ts"
)

// ProgressFunc receives a 0-100 percent-complete value.
type ProgressFunc func(percent float64)

// Result contains the output artifact paths of one encoder run.
type Result struct {
	PlaylistPath string
	SegmentPaths []string
}

// Transcoder wraps an external ffmpeg to split one input video into an HLS
// playlist plus fixed-duration MPEG-TS segments.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	throttle    time.Duration
	now         func() time.Time
}

func NewTranscoder(ffmpegPath, ffprobePath string) *Transcoder {
	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
		throttle:    time.Second,
		now:         time.Now,
	}
}

// NewTranscoderForTests constructs a transcoder with an injectable runner.
func NewTranscoderForTests(runner commandRunner, throttle time.Duration, now func() time.Time) *Transcoder {
	return &Transcoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      runner,
		throttle:    throttle,
		now:         now,
	}
}

// Run converts srcPath into an HLS artifact set under outDir, reporting
// progress throttled to at most one update per second.
//
// On cancellation the encoder is killed, then the source file and output
// directory are removed here before returning: a killed encoder can leave the
// directory half-written, and this package best understands those paths. On
// other failures local cleanup is left to the caller.
func (t *Transcoder) Run(ctx context.Context, srcPath, outDir string, onProgress ProgressFunc) (*Result, error) {
	duration, err := t.probeDuration(ctx, srcPath)
	if err != nil {
		if ctx.Err() != nil {
			t.removeLocal(srcPath, outDir)
			return nil, ErrAborted
		}
		return nil, NewErrEncodingFailed(fmt.Sprintf("probing duration: %v", err))
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	name := baseName(srcPath)
	playlistPath := filepath.Join(outDir, name+playlistExt)
	emitter := newProgressEmitter(onProgress, t.throttle, t.now)

	args := buildHLSArgs(srcPath, outDir, name)
	stderr, runErr := t.runner.Stream(ctx, t.ffmpegPath, args, func(line string) {
		if pct, ok := parseProgressLine(line, duration); ok {
			emitter.emit(pct)
		}
	})

	if ctx.Err() != nil {
		// Subprocess was killed; remove the paths it may have left
		// half-written.
		t.removeLocal(srcPath, outDir)
		return nil, ErrAborted
	}
	if runErr != nil {
		return nil, NewErrEncodingFailed(tail(stderr))
	}

	result, err := collectOutputs(playlistPath, outDir)
	if err != nil {
		return nil, err
	}

	emitter.finish()
	return result, nil
}

func (t *Transcoder) probeDuration(ctx context.Context, srcPath string) (float64, error) {
	out, err := t.runner.Output(ctx, t.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		srcPath,
	)
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe output %q: %w", strings.TrimSpace(out), err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive media duration %f", duration)
	}
	return duration, nil
}

func (t *Transcoder) removeLocal(srcPath, outDir string) {
	_ = os.Remove(srcPath)
	_ = os.RemoveAll(outDir)
}

// buildHLSArgs builds ffmpeg CLI args for fixed-duration HLS output with a
// machine-readable progress stream on stdout.
func buildHLSArgs(srcPath, outDir, name string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", srcPath,
		"-preset", "fast",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outDir, name+"-%03d"+segmentExt),
		"-progress", "pipe:1",
		"-loglevel", "error",
		filepath.Join(outDir, name+playlistExt),
	}
}

// parseProgressLine extracts a percent-complete value from one line of the
// ffmpeg -progress key=value stream.
func parseProgressLine(line string, duration float64) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg emits microseconds under both keys.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		pct := float64(us) / 1e6 / duration * 100
		if pct > 99.9 {
			pct = 99.9
		}
		return pct, true
	case "progress":
		if value == "end" {
			return 100, true
		}
	}
	return 0, false
}

// collectOutputs validates the artifact set: exactly one playlist and at
// least one numbered segment.
func collectOutputs(playlistPath, outDir string) (*Result, error) {
	if _, err := os.Stat(playlistPath); err != nil {
		return nil, NewErrEncodingFailed(fmt.Sprintf("playlist missing at %s", playlistPath))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("reading output directory: %w", err)
	}

	segments := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), segmentExt) {
			segments = append(segments, filepath.Join(outDir, entry.Name()))
		}
	}
	if len(segments) == 0 {
		return nil, ErrNoOutput
	}
	sort.Strings(segments)

	return &Result{PlaylistPath: playlistPath, SegmentPaths: segments}, nil
}

func baseName(srcPath string) string {
	base := filepath.Base(srcPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "encoder exited with an error"
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}

// progressEmitter throttles updates to one per interval and keeps them
// monotonic within the run.
type progressEmitter struct {
	onProgress ProgressFunc
	interval   time.Duration
	now        func() time.Time
	lastEmit   time.Time
	lastPct    float64
}

func newProgressEmitter(onProgress ProgressFunc, interval time.Duration, now func() time.Time) *progressEmitter {
	return &progressEmitter{onProgress: onProgress, interval: interval, now: now}
}

func (e *progressEmitter) emit(pct float64) {
	if e.onProgress == nil {
		return
	}
	if pct < e.lastPct {
		return
	}

	now := e.now()
	if !e.lastEmit.IsZero() && now.Sub(e.lastEmit) < e.interval {
		return
	}

	e.lastEmit = now
	e.lastPct = pct
	e.onProgress(pct)
}

// finish emits the terminal 100 regardless of throttling.
func (e *progressEmitter) finish() {
	if e.onProgress == nil {
		return
	}
	e.lastPct = 100
	e.onProgress(100)
}
