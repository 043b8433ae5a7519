package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nxdus/clustra-project/internal/cdn"
	"github.com/Nxdus/clustra-project/internal/objstore"
	"github.com/Nxdus/clustra-project/internal/progress"
	"github.com/Nxdus/clustra-project/internal/quota"
	"github.com/Nxdus/clustra-project/internal/store"
	"github.com/Nxdus/clustra-project/internal/store/model"
	"github.com/Nxdus/clustra-project/internal/transcode"
	"github.com/Nxdus/clustra-project/pkg/metrics"
)

const (
	cleanupTimeout = 30 * time.Second

	// staleAfter is how long a mid-flight row may go untouched before startup
	// recovery treats its owning process as dead. Progress writes refresh
	// updated_at every emit, so a live job stays well inside this window even
	// when another replica is processing it.
	staleAfter = 5 * time.Minute
)

// Transcoder converts one local source file into an HLS artifact set.
type Transcoder interface {
	Run(ctx context.Context, srcPath, outDir string, onProgress transcode.ProgressFunc) (*transcode.Result, error)
}

// Uploader pushes one artifact set to the object store.
type Uploader interface {
	Upload(ctx context.Context, in objstore.UploadInput, onProgress objstore.ProgressFunc) (*objstore.UploadResult, error)
}

type Config struct {
	Store         store.Store
	Objects       objstore.Client
	Uploader      Uploader
	Transcoder    Transcoder
	Quota         *quota.Guard
	Invalidator   cdn.Invalidator
	Tracker       *progress.Tracker
	Cancels       *CancelRegistry
	WorkDir       string
	SweepInterval time.Duration
	BatchSize     int
}

// Worker drives the job pipeline: claim PENDING rows, transcode, upload,
// commit. One job is processed end to end by one worker at a time; the
// store's atomic claim is the only cross-worker synchronization.
type Worker struct {
	store       store.Store
	objects     objstore.Client
	uploader    Uploader
	transcoder  Transcoder
	quota       *quota.Guard
	invalidator cdn.Invalidator
	tracker     *progress.Tracker
	cancels     *CancelRegistry

	workDir       string
	sweepInterval time.Duration
	batchSize     int
}

func New(cfg Config) *Worker {
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Worker{
		store:         cfg.Store,
		objects:       cfg.Objects,
		uploader:      cfg.Uploader,
		transcoder:    cfg.Transcoder,
		quota:         cfg.Quota,
		invalidator:   cfg.Invalidator,
		tracker:       cfg.Tracker,
		cancels:       cfg.Cancels,
		workDir:       cfg.WorkDir,
		sweepInterval: sweepInterval,
		batchSize:     batchSize,
	}
}

// Run recovers state left by a crashed process, then sweeps for PENDING jobs
// until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.recover(ctx); err != nil {
		zap.S().Named("worker").Warnw("crash recovery incomplete", "error", err)
	}

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				zap.S().Named("worker").Errorw("sweep failed", "error", err)
			}
		}
	}
}

// Sweep claims up to the batch size of PENDING jobs, oldest first, and
// processes them sequentially.
func (w *Worker) Sweep(ctx context.Context) error {
	claimed, err := w.store.Video().ClaimPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("claiming pending jobs: %w", err)
	}

	for i := range claimed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.Process(ctx, claimed[i])
	}
	return nil
}

// Process runs the linear pipeline for one claimed job. Every exit path
// removes the job's working directory; abort additionally leaves no row and
// no remote objects.
func (w *Worker) Process(ctx context.Context, video model.Video) {
	log := zap.S().Named("worker").With("job_id", video.ID, "name", video.Name)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.cancels.Register(video.ID, cancel)
	defer w.cancels.Remove(video.ID)

	tempDir := filepath.Join(w.workDir, video.ID.String())
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		w.fail(video, fmt.Errorf("creating working directory: %w", err))
		return
	}
	defer os.RemoveAll(tempDir)

	srcPath := filepath.Join(tempDir, video.Name+".mp4")
	outDir := filepath.Join(tempDir, "converted")

	if err := w.fetchSource(jobCtx, video, srcPath); err != nil {
		if jobCtx.Err() != nil {
			w.finishCancelled(video)
			return
		}
		w.fail(video, err)
		return
	}

	w.tracker.Update(video.ID.String(), 0, progress.PhaseProcessing)
	transcodeStart := time.Now()

	result, err := w.transcoder.Run(jobCtx, srcPath, outDir, func(pct float64) {
		w.reportProgress(ctx, video.ID, pct, progress.PhaseProcessing)
	})
	if err != nil {
		if errors.Is(err, transcode.ErrAborted) {
			log.Infow("transcode cancelled")
			w.finishCancelled(video)
			return
		}
		w.fail(video, err)
		return
	}

	metrics.ObserveTranscodeDuration(time.Since(transcodeStart).Seconds())

	uploading := model.VideoStatusUploading
	zero := 0.0
	if _, err := w.store.Video().Update(ctx, video.ID, store.VideoUpdate{Status: &uploading, Progress: &zero}); err != nil {
		if jobCtx.Err() != nil {
			w.finishCancelled(video)
			return
		}
		w.fail(video, fmt.Errorf("marking job uploading: %w", err))
		return
	}
	w.tracker.Update(video.ID.String(), 0, progress.PhaseUploading)

	uploadResult, err := w.uploader.Upload(jobCtx, objstore.UploadInput{
		PlaylistPath: result.PlaylistPath,
		SegmentPaths: result.SegmentPaths,
		KeyPrefix:    objstore.ConvertedPrefix(video.Name),
	}, func(pct float64) {
		w.reportProgress(ctx, video.ID, pct, progress.PhaseUploading)
	})
	if err != nil {
		if errors.Is(err, objstore.ErrAborted) || jobCtx.Err() != nil {
			log.Infow("upload cancelled")
			w.finishCancelled(video)
			return
		}
		w.purgeRemote(video.Name)
		w.fail(video, err)
		return
	}

	// Storage post-check with the now-known output size, before the commit.
	// Failing here discards the artifacts rather than truncating them.
	if err := w.quota.CheckStorageAllowed(ctx, video.UserID, uploadResult.TotalBytes); err != nil {
		w.purgeRemote(video.Name)
		w.fail(video, err)
		return
	}

	if _, err := w.store.Video().Complete(ctx, video.ID, uploadResult.TotalBytes); err != nil {
		w.purgeRemote(video.Name)
		w.fail(video, fmt.Errorf("committing job: %w", err))
		return
	}

	if err := w.invalidator.Invalidate(ctx, []string{objstore.InvalidationPath(video.Name)}); err != nil {
		// Stale CDN entries are acceptable: paths are content-unique.
		log.Warnw("cdn invalidation failed", "error", err)
		metrics.IncreaseCdnInvalidationsMetric("error")
	} else {
		metrics.IncreaseCdnInvalidationsMetric("success")
	}

	// The stashed source has served its purpose.
	if err := w.objects.DeleteMany(ctx, []string{objstore.OriginalKey(video.Name)}); err != nil {
		log.Warnw("failed to delete stashed source", "error", err)
	}

	w.tracker.Clear(video.ID.String())
	metrics.IncreaseTranscodeJobsTotalMetric("completed")
	log.Infow("job completed", "bytes", uploadResult.TotalBytes)
}

func (w *Worker) fetchSource(ctx context.Context, video model.Video, srcPath string) error {
	f, err := os.Create(srcPath)
	if err != nil {
		return fmt.Errorf("creating source file: %w", err)
	}
	defer f.Close()

	if err := w.objects.Get(ctx, objstore.OriginalKey(video.Name), f); err != nil {
		return fmt.Errorf("fetching source: %w", err)
	}
	return nil
}

func (w *Worker) reportProgress(ctx context.Context, id uuid.UUID, pct float64, phase progress.Phase) {
	w.tracker.Update(id.String(), pct, phase)

	if _, err := w.store.Video().Update(ctx, id, store.VideoUpdate{Progress: &pct}); err != nil {
		zap.S().Named("worker").Debugw("progress update skipped", "job_id", id, "error", err)
	}
}

// fail records the terminal ERROR status. The row is retained for operator
// visibility; local temp files are removed by the Process defer.
func (w *Worker) fail(video model.Video, cause error) {
	zap.S().Named("worker").Errorw("job failed", "job_id", video.ID, "error", cause)

	ctx, cancelFn := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancelFn()

	errStatus := model.VideoStatusError
	message := cause.Error()
	if _, err := w.store.Video().Update(ctx, video.ID, store.VideoUpdate{Status: &errStatus, Message: &message}); err != nil {
		zap.S().Named("worker").Errorw("failed to mark job errored", "job_id", video.ID, "error", err)
	}

	w.tracker.SetError(video.ID.String(), message)
	metrics.IncreaseTranscodeJobsTotalMetric("error")
}

// finishCancelled routes a job whose context was cancelled. A registry trip
// means the user asked for the job to go away, so it is erased; any other
// cancellation is the process shutting down, and the job is returned to the
// queue for a rerun.
func (w *Worker) finishCancelled(video model.Video) {
	if w.cancels.Tripped(video.ID) {
		w.abort(video)
		return
	}
	w.release(video)
}

// release returns a shutdown-interrupted job to PENDING so a later sweep
// reruns it from scratch. Partial remote artifacts are purged first; the
// stashed source stays put.
func (w *Worker) release(video model.Video) {
	ctx, cancelFn := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancelFn()

	w.purgeRemote(video.Name)

	pending := model.VideoStatusPending
	zero := 0.0
	if _, err := w.store.Video().Update(ctx, video.ID, store.VideoUpdate{Status: &pending, Progress: &zero}); err != nil {
		zap.S().Named("worker").Errorw("failed to release interrupted job", "job_id", video.ID, "error", err)
	}

	w.tracker.Clear(video.ID.String())
	zap.S().Named("worker").Infow("job released for rerun", "job_id", video.ID)
}

// abort erases the job: remote artifacts, stashed source, the row itself.
// A cancelled submission leaves no trace.
func (w *Worker) abort(video model.Video) {
	ctx, cancelFn := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancelFn()

	w.purgeRemote(video.Name)
	if err := w.objects.DeleteMany(ctx, []string{objstore.OriginalKey(video.Name)}); err != nil {
		zap.S().Named("worker").Warnw("failed to delete stashed source", "job_id", video.ID, "error", err)
	}

	if err := w.store.Video().Delete(ctx, video.ID); err != nil {
		zap.S().Named("worker").Errorw("failed to delete aborted job", "job_id", video.ID, "error", err)
	}

	w.tracker.Clear(video.ID.String())
	metrics.IncreaseTranscodeJobsTotalMetric("aborted")
	zap.S().Named("worker").Infow("job aborted", "job_id", video.ID)
}

// purgeRemote best-effort deletes every object under the job's converted
// prefix. Failures are logged and never block the terminal transition.
func (w *Worker) purgeRemote(name string) {
	ctx, cancelFn := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancelFn()

	keys, err := w.objects.List(ctx, objstore.ConvertedPrefix(name))
	if err != nil {
		zap.S().Named("worker").Warnw("failed to list remote artifacts", "name", name, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := w.objects.DeleteMany(ctx, keys); err != nil {
		zap.S().Named("worker").Warnw("failed to delete remote artifacts", "name", name, "error", err)
	}
}

// recover handles state left by a crashed process: orphaned working
// directories are removed, and mid-flight rows untouched for longer than
// staleAfter are purged remotely and reset to PENDING so a later sweep reruns
// them from scratch. The updated_at cutoff keeps a restarting replica from
// stealing a job another process is actively driving.
func (w *Worker) recover(ctx context.Context) error {
	if entries, err := os.ReadDir(w.workDir); err == nil {
		for _, entry := range entries {
			_ = os.RemoveAll(filepath.Join(w.workDir, entry.Name()))
		}
	}

	stale, err := w.store.Video().ListStale(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		return err
	}

	for i := range stale {
		video := stale[i]
		w.purgeRemote(video.Name)

		pending := model.VideoStatusPending
		zero := 0.0
		if _, err := w.store.Video().Update(ctx, video.ID, store.VideoUpdate{Status: &pending, Progress: &zero}); err != nil {
			zap.S().Named("worker").Errorw("failed to reset stale job", "job_id", video.ID, "error", err)
			continue
		}
		zap.S().Named("worker").Infow("reclaimed stale job", "job_id", video.ID)
	}
	return nil
}
