package objstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Nxdus/clustra-project/pkg/metrics"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"

	putAttempts = 3
	putBackoff  = time.Second
)

// ErrAborted reports that the upload was cancelled and every object already
// written for the job was rolled back.
var ErrAborted = errors.New("upload aborted")

type ErrUploadFailed struct {
	error
}

func NewErrUploadFailed(key string, err error) *ErrUploadFailed {
	return &ErrUploadFailed{fmt.Errorf("uploading %s: %w", key, err)}
}

// ProgressFunc receives a 0-100 percent-complete value.
type ProgressFunc func(percent float64)

// UploadInput names the artifact set of one job: the playlist and its
// segments in file order, destined for keys under KeyPrefix.
type UploadInput struct {
	PlaylistPath string
	SegmentPaths []string
	KeyPrefix    string
}

// UploadResult reports what one upload pushed.
type UploadResult struct {
	PlaylistKey string
	Keys        []string
	TotalBytes  int64
}

// Uploader pushes a job's artifacts to the object store with bounded
// per-object retry. Objects go up sequentially, playlist first, so progress
// is a simple uploaded/total count.
type Uploader struct {
	client   Client
	attempts int
	backoff  time.Duration
}

func NewUploader(client Client) *Uploader {
	return &Uploader{client: client, attempts: putAttempts, backoff: putBackoff}
}

// NewUploaderForTests constructs an uploader with injectable retry settings.
func NewUploaderForTests(client Client, attempts int, backoff time.Duration) *Uploader {
	return &Uploader{client: client, attempts: attempts, backoff: backoff}
}

// Upload pushes the playlist, then each segment in order. The cancellation
// signal is checked before every object write; on trip, everything already
// written under the job's prefix is batch-deleted and ErrAborted returned.
// The total byte size is computed up front and reported in the result for
// the commit and the storage post-check.
func (u *Uploader) Upload(ctx context.Context, in UploadInput, onProgress ProgressFunc) (*UploadResult, error) {
	totalBytes, err := totalSize(in)
	if err != nil {
		return nil, err
	}

	totalObjects := len(in.SegmentPaths) + 1
	written := make([]string, 0, totalObjects)

	emit := func() {
		if onProgress != nil {
			onProgress(float64(len(written)) / float64(totalObjects) * 100)
		}
	}

	if ctx.Err() != nil {
		return nil, ErrAborted
	}

	playlistKey := in.KeyPrefix + "/" + filepath.Base(in.PlaylistPath)
	if err := u.putFile(ctx, playlistKey, in.PlaylistPath, playlistContentType); err != nil {
		if ctx.Err() != nil {
			u.rollback(written)
			return nil, ErrAborted
		}
		return nil, err
	}
	written = append(written, playlistKey)
	emit()

	for _, segmentPath := range in.SegmentPaths {
		if ctx.Err() != nil {
			u.rollback(written)
			return nil, ErrAborted
		}

		key := in.KeyPrefix + "/" + filepath.Base(segmentPath)
		if err := u.putFile(ctx, key, segmentPath, segmentContentType); err != nil {
			if ctx.Err() != nil {
				u.rollback(written)
				return nil, ErrAborted
			}
			return nil, err
		}
		written = append(written, key)
		emit()
	}

	return &UploadResult{
		PlaylistKey: playlistKey,
		Keys:        written,
		TotalBytes:  totalBytes,
	}, nil
}

func (u *Uploader) putFile(ctx context.Context, key, path, contentType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := u.putWithRetry(ctx, key, data, contentType); err != nil {
		return NewErrUploadFailed(key, err)
	}

	metrics.AddArtifactBytesUploaded(int64(len(data)))
	return nil
}

// putWithRetry attempts the write up to u.attempts times with a fixed
// backoff between tries, surfacing the last transport error.
func (u *Uploader) putWithRetry(ctx context.Context, key string, data []byte, contentType string) error {
	var lastErr error
	for attempt := 0; attempt < u.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(u.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = u.client.Put(ctx, key, data, contentType); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// rollback deletes everything written so far. Best-effort: the job is being
// discarded either way, and content-unique prefixes mean leftovers are inert.
func (u *Uploader) rollback(written []string) {
	if len(written) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = u.client.DeleteMany(ctx, written)
}

func totalSize(in UploadInput) (int64, error) {
	info, err := os.Stat(in.PlaylistPath)
	if err != nil {
		return 0, fmt.Errorf("sizing playlist: %w", err)
	}
	total := info.Size()

	for _, segmentPath := range in.SegmentPaths {
		info, err := os.Stat(segmentPath)
		if err != nil {
			return 0, fmt.Errorf("sizing segment %s: %w", segmentPath, err)
		}
		total += info.Size()
	}
	return total, nil
}
