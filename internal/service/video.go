package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nxdus/clustra-project/internal/cdn"
	"github.com/Nxdus/clustra-project/internal/objstore"
	"github.com/Nxdus/clustra-project/internal/progress"
	"github.com/Nxdus/clustra-project/internal/quota"
	"github.com/Nxdus/clustra-project/internal/store"
	"github.com/Nxdus/clustra-project/internal/store/model"
	"github.com/Nxdus/clustra-project/internal/worker"
)

const sourceContentType = "video/mp4"

// StatusInfo is the polling response for one job.
type StatusInfo struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	IsCompleted bool    `json:"isCompleted"`
	Error       string  `json:"error,omitempty"`
	URL         string  `json:"url,omitempty"`
}

// InlineRunner processes a submission synchronously in-process instead of
// waiting for a worker sweep.
type InlineRunner interface {
	Process(ctx context.Context, video model.Video)
}

type VideoService struct {
	store       store.Store
	objects     objstore.Client
	quota       *quota.Guard
	tracker     *progress.Tracker
	cancels     *worker.CancelRegistry
	invalidator cdn.Invalidator
	cdnDomain   string
	inline      InlineRunner
}

func NewVideoService(
	s store.Store,
	objects objstore.Client,
	guard *quota.Guard,
	tracker *progress.Tracker,
	cancels *worker.CancelRegistry,
	invalidator cdn.Invalidator,
	cdnDomain string,
) *VideoService {
	return &VideoService{
		store:       s,
		objects:     objects,
		quota:       guard,
		tracker:     tracker,
		cancels:     cancels,
		invalidator: invalidator,
		cdnDomain:   cdnDomain,
	}
}

// WithInlineRunner makes submissions start processing immediately instead of
// waiting for the next worker sweep.
func (s *VideoService) WithInlineRunner(runner InlineRunner) *VideoService {
	s.inline = runner
	return s
}

// SubmitUpload validates the file, reserves a quota slot, stashes the source
// in the object store, and creates the PENDING job row. Quota and validation
// failures are synchronous; everything after this call is observable only
// through polling.
func (s *VideoService) SubmitUpload(ctx context.Context, userID, filename string, data []byte) (*model.Video, error) {
	if err := validateSource(filename, data); err != nil {
		return nil, err
	}

	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	if err := s.quota.CheckUploadAllowed(ctx, userID); err != nil {
		return nil, err
	}

	name, err := randomName()
	if err != nil {
		return nil, fmt.Errorf("generating job name: %w", err)
	}

	if err := s.objects.Put(ctx, objstore.OriginalKey(name), data, sourceContentType); err != nil {
		return nil, fmt.Errorf("stashing source: %w", err)
	}

	video, err := s.store.Video().Create(ctx, model.Video{
		ID:     uuid.New(),
		UserID: userID,
		Name:   name,
		Key:    objstore.PlaylistKey(name),
		URL:    objstore.PlaybackURL(s.cdnDomain, name),
		Status: model.VideoStatusPending,
	})
	if err != nil {
		// The stashed source is unreachable without a row; drop it.
		s.discardSource(name)
		return nil, fmt.Errorf("creating job record: %w", err)
	}

	s.tracker.Update(video.ID.String(), 0, progress.PhasePending)
	zap.S().Named("video_service").Infow("job submitted", "job_id", video.ID, "user_id", userID, "source_bytes", len(data))

	if s.inline != nil {
		claimed, err := s.claimForInline(ctx, video.ID)
		if err != nil {
			zap.S().Named("video_service").Warnw("inline claim failed, leaving job for worker sweep", "job_id", video.ID, "error", err)
			return video, nil
		}
		go s.inline.Process(context.Background(), *claimed)
	}

	return video, nil
}

// GetStatus reads the tracker first for low latency; the durable row is the
// source of truth whenever the tracker has no entry.
func (s *VideoService) GetStatus(ctx context.Context, id uuid.UUID) (*StatusInfo, error) {
	if entry, ok := s.tracker.Get(id.String()); ok {
		return &StatusInfo{
			Status:      statusForPhase(entry.Phase),
			Progress:    entry.Percent,
			IsCompleted: entry.Phase == progress.PhaseCompleted,
			Error:       entry.Error,
		}, nil
	}

	video, err := s.store.Video().Get(ctx, id)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return nil, NewErrVideoNotFound(id)
		}
		return nil, err
	}

	info := &StatusInfo{
		Status:      string(video.Status),
		Progress:    video.Progress,
		IsCompleted: video.Status == model.VideoStatusCompleted,
		Error:       video.Message,
	}
	if info.IsCompleted {
		info.URL = video.URL
	}
	return info, nil
}

// statusForPhase spells a tracker phase the way the durable row spells its
// status, so both GetStatus paths report the same vocabulary.
func statusForPhase(phase progress.Phase) string {
	switch phase {
	case progress.PhasePending:
		return string(model.VideoStatusPending)
	case progress.PhaseProcessing:
		return string(model.VideoStatusProcessing)
	case progress.PhaseUploading:
		return string(model.VideoStatusUploading)
	case progress.PhaseCompleted:
		return string(model.VideoStatusCompleted)
	case progress.PhaseError:
		return string(model.VideoStatusError)
	default:
		return string(phase)
	}
}

// Cancel is best-effort: a job running in this process is signalled and its
// worker performs the rollback; a job still PENDING is erased directly. In
// both cases the submission eventually leaves no trace.
func (s *VideoService) Cancel(ctx context.Context, id uuid.UUID) error {
	if s.cancels.Cancel(id) {
		zap.S().Named("video_service").Infow("cancellation signalled", "job_id", id)
		return nil
	}

	video, err := s.store.Video().Get(ctx, id)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return NewErrVideoNotFound(id)
		}
		return err
	}

	switch {
	case video.Status == model.VideoStatusPending:
		s.discardSource(video.Name)
		if err := s.store.Video().Delete(ctx, id); err != nil {
			return err
		}
		s.tracker.Clear(id.String())
		zap.S().Named("video_service").Infow("pending job cancelled", "job_id", id)
		return nil
	case video.Status.Terminal():
		return NewErrJobAlreadyFinished(id)
	default:
		// Claimed by a worker in another process; we have no signal to it.
		return NewErrJobNotCancellable(id)
	}
}

func (s *VideoService) List(ctx context.Context, userID string) (model.VideoList, error) {
	return s.store.Video().List(ctx, userID)
}

// Delete removes a finished video: remote artifacts, stashed source, the
// row, and reclaims the owner's storage. In-flight jobs must be cancelled
// instead.
func (s *VideoService) Delete(ctx context.Context, id uuid.UUID) error {
	video, err := s.store.Video().Get(ctx, id)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return NewErrVideoNotFound(id)
		}
		return err
	}
	if !video.Status.Terminal() {
		return NewErrVideoNotDeletable(id)
	}

	keys, err := s.objects.List(ctx, objstore.ConvertedPrefix(video.Name))
	if err == nil && len(keys) > 0 {
		if err := s.objects.DeleteMany(ctx, keys); err != nil {
			zap.S().Named("video_service").Warnw("failed to delete remote artifacts", "job_id", id, "error", err)
		}
	}
	s.discardSource(video.Name)

	if err := s.store.Video().Delete(ctx, id); err != nil {
		return err
	}

	if video.Status == model.VideoStatusCompleted && video.FileSize != nil {
		if err := s.store.User().AddStorageUsed(ctx, video.UserID, -*video.FileSize); err != nil {
			zap.S().Named("video_service").Warnw("failed to reclaim storage", "job_id", id, "error", err)
		}
	}

	if err := s.invalidator.Invalidate(ctx, []string{objstore.InvalidationPath(video.Name)}); err != nil {
		zap.S().Named("video_service").Warnw("cdn invalidation failed", "job_id", id, "error", err)
	}

	s.tracker.Clear(id.String())
	return nil
}

// ensureUser provisions usage counters on first contact. Identity itself is
// owned by the external auth collaborator.
func (s *VideoService) ensureUser(ctx context.Context, userID string) error {
	_, err := s.store.User().Get(ctx, userID)
	if err == nil {
		return nil
	}
	if err != store.ErrRecordNotFound {
		return err
	}

	_, err = s.store.User().Create(ctx, model.User{
		ID:              userID,
		Plan:            model.PlanFree,
		LastUploadReset: time.Now(),
	})
	if err != nil && err != store.ErrDuplicateKey {
		return err
	}
	return nil
}

func (s *VideoService) claimForInline(ctx context.Context, id uuid.UUID) (*model.Video, error) {
	processing := model.VideoStatusProcessing
	return s.store.Video().Update(ctx, id, store.VideoUpdate{Status: &processing})
}

func (s *VideoService) discardSource(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.objects.DeleteMany(ctx, []string{objstore.OriginalKey(name)}); err != nil {
		zap.S().Named("video_service").Warnw("failed to delete stashed source", "name", name, "error", err)
	}
}

func validateSource(filename string, data []byte) error {
	if strings.ToLower(filepath.Ext(filename)) != ".mp4" {
		return NewErrInvalidInput("only MP4 files are accepted")
	}
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return NewErrInvalidInput("file is not a valid MP4 container")
	}
	return nil
}

// randomName builds the job's public name: 6 random bytes, hex encoded, as
// short and URL-safe as the artifact keys need.
func randomName() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
