package worker_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/Nxdus/clustra-project/internal/cdn"
	"github.com/Nxdus/clustra-project/internal/config"
	"github.com/Nxdus/clustra-project/internal/objstore"
	"github.com/Nxdus/clustra-project/internal/progress"
	"github.com/Nxdus/clustra-project/internal/quota"
	st "github.com/Nxdus/clustra-project/internal/store"
	"github.com/Nxdus/clustra-project/internal/store/model"
	"github.com/Nxdus/clustra-project/internal/transcode"
	"github.com/Nxdus/clustra-project/internal/worker"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker Suite")
}

type fakeObjects struct {
	mu       sync.Mutex
	contents map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{contents: make(map[string][]byte)}
}

func (f *fakeObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents[key] = data
	return nil
}

func (f *fakeObjects) Get(ctx context.Context, key string, dst io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.contents[key]
	if !ok {
		return errors.New("no such key")
	}
	_, err := dst.Write(data)
	return err
}

func (f *fakeObjects) DeleteMany(ctx context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.contents, key)
	}
	return nil
}

func (f *fakeObjects) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.contents {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeObjects) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.contents[key]
	return ok
}

var _ objstore.Client = (*fakeObjects)(nil)

type fakeTranscoder struct {
	err      error
	progress []float64
	onRun    func()
}

func (f *fakeTranscoder) Run(ctx context.Context, srcPath, outDir string, onProgress transcode.ProgressFunc) (*transcode.Result, error) {
	if f.onRun != nil {
		f.onRun()
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, pct := range f.progress {
		if onProgress != nil {
			onProgress(pct)
		}
	}
	base := strings.TrimSuffix(filepath.Base(srcPath), ".mp4")
	return &transcode.Result{
		PlaylistPath: filepath.Join(outDir, base+".m3u8"),
		SegmentPaths: []string{filepath.Join(outDir, base+"-000.ts")},
	}, nil
}

type fakeUploader struct {
	objects    *fakeObjects
	err        error
	totalBytes int64
	onUpload   func()
}

func (f *fakeUploader) Upload(ctx context.Context, in objstore.UploadInput, onProgress objstore.ProgressFunc) (*objstore.UploadResult, error) {
	if f.onUpload != nil {
		f.onUpload()
	}
	if f.err != nil {
		return nil, f.err
	}
	playlistKey := in.KeyPrefix + "/" + filepath.Base(in.PlaylistPath)
	keys := []string{playlistKey}
	_ = f.objects.Put(ctx, playlistKey, []byte("#EXTM3U\n"), "application/vnd.apple.mpegurl")
	for _, seg := range in.SegmentPaths {
		key := in.KeyPrefix + "/" + filepath.Base(seg)
		_ = f.objects.Put(ctx, key, []byte("ts"), "video/MP2T")
		keys = append(keys, key)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return &objstore.UploadResult{PlaylistKey: playlistKey, Keys: keys, TotalBytes: f.totalBytes}, nil
}

var _ = Describe("Worker", Ordered, func() {
	var (
		store      st.Store
		gormDB     *gorm.DB
		objects    *fakeObjects
		tracker    *progress.Tracker
		cancels    *worker.CancelRegistry
		transcoder *fakeTranscoder
		uploader   *fakeUploader
		w          *worker.Worker
	)

	BeforeAll(func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "worker.db")

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		Expect(store.Close()).To(BeNil())
	})

	BeforeEach(func() {
		objects = newFakeObjects()
		tracker = progress.NewTracker()
		cancels = worker.NewCancelRegistry()
		transcoder = &fakeTranscoder{}
		uploader = &fakeUploader{objects: objects, totalBytes: 2048}

		w = worker.New(worker.Config{
			Store:         store,
			Objects:       objects,
			Uploader:      uploader,
			Transcoder:    transcoder,
			Quota:         quota.NewGuard(store.User()),
			Invalidator:   cdn.NewNoopInvalidator(),
			Tracker:       tracker,
			Cancels:       cancels,
			WorkDir:       GinkgoT().TempDir(),
			SweepInterval: time.Hour,
			BatchSize:     5,
		})
	})

	AfterEach(func() {
		gormDB.Exec("DELETE FROM videos;")
		gormDB.Exec("DELETE FROM users;")
	})

	newJob := func(status model.VideoStatus) *model.Video {
		name := uuid.New().String()[:12]
		_, err := store.User().Create(context.TODO(), model.User{ID: "user-1", Plan: model.PlanFree})
		if err != nil && err != st.ErrDuplicateKey {
			Expect(err).To(BeNil())
		}

		video, err := store.Video().Create(context.TODO(), model.Video{
			ID:     uuid.New(),
			UserID: "user-1",
			Name:   name,
			Key:    objstore.PlaylistKey(name),
			Status: status,
		})
		Expect(err).To(BeNil())

		objects.contents[objstore.OriginalKey(name)] = []byte("mp4 bytes")
		return video
	}

	Context("Process", func() {
		It("runs a claimed job to completion", func() {
			video := newJob(model.VideoStatusProcessing)
			transcoder.progress = []float64{50}

			w.Process(context.TODO(), *video)

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusCompleted))
			Expect(found.Progress).To(Equal(100.0))
			Expect(*found.FileSize).To(Equal(int64(2048)))

			user, err := store.User().Get(context.TODO(), "user-1")
			Expect(err).To(BeNil())
			Expect(user.TotalStorageUsed).To(Equal(int64(2048)))

			Expect(objects.has(objstore.PlaylistKey(video.Name))).To(BeTrue())
			Expect(objects.has(objstore.OriginalKey(video.Name))).To(BeFalse())

			_, ok := tracker.Get(video.ID.String())
			Expect(ok).To(BeFalse())
		})

		It("marks the job errored when transcoding fails", func() {
			video := newJob(model.VideoStatusProcessing)
			transcoder.err = transcode.NewErrEncodingFailed("Invalid data found when processing input")

			w.Process(context.TODO(), *video)

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusError))
			Expect(found.Message).To(ContainSubstring("Invalid data found"))

			entry, ok := tracker.Get(video.ID.String())
			Expect(ok).To(BeTrue())
			Expect(entry.Phase).To(Equal(progress.PhaseError))
		})

		It("erases the job when the user cancels during the transcode", func() {
			video := newJob(model.VideoStatusProcessing)
			transcoder.err = transcode.ErrAborted
			transcoder.onRun = func() {
				Expect(cancels.Cancel(video.ID)).To(BeTrue())
			}

			w.Process(context.TODO(), *video)

			_, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(Equal(st.ErrRecordNotFound))
			Expect(objects.has(objstore.OriginalKey(video.Name))).To(BeFalse())
		})

		It("erases the job when the user cancels during the upload", func() {
			video := newJob(model.VideoStatusProcessing)
			uploader.err = objstore.ErrAborted
			uploader.onUpload = func() {
				Expect(cancels.Cancel(video.ID)).To(BeTrue())
			}

			w.Process(context.TODO(), *video)

			_, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(Equal(st.ErrRecordNotFound))
		})

		It("returns the job to the queue when the process shuts down mid-transcode", func() {
			video := newJob(model.VideoStatusProcessing)

			ctx, cancel := context.WithCancel(context.TODO())
			transcoder.err = transcode.ErrAborted
			transcoder.onRun = cancel

			w.Process(ctx, *video)

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusPending))
			Expect(found.Progress).To(Equal(0.0))

			// The stashed source survives for the rerun.
			Expect(objects.has(objstore.OriginalKey(video.Name))).To(BeTrue())
		})

		It("returns the job to the queue when the process shuts down mid-upload", func() {
			video := newJob(model.VideoStatusProcessing)

			ctx, cancel := context.WithCancel(context.TODO())
			uploader.err = objstore.ErrAborted
			uploader.onUpload = cancel

			w.Process(ctx, *video)

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusPending))
			Expect(objects.has(objstore.OriginalKey(video.Name))).To(BeTrue())
		})

		It("marks the job errored when the upload fails", func() {
			video := newJob(model.VideoStatusProcessing)
			uploader.err = objstore.NewErrUploadFailed("converted/x/x.m3u8", errors.New("connection reset"))

			w.Process(context.TODO(), *video)

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusError))
		})

		It("discards the artifacts when the storage ceiling would be crossed", func() {
			video := newJob(model.VideoStatusProcessing)
			Expect(store.User().AddStorageUsed(context.TODO(), "user-1", 2<<30)).To(BeNil())

			w.Process(context.TODO(), *video)

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusError))

			keys, err := objects.List(context.TODO(), objstore.ConvertedPrefix(video.Name))
			Expect(err).To(BeNil())
			Expect(keys).To(BeEmpty())

			user, err := store.User().Get(context.TODO(), "user-1")
			Expect(err).To(BeNil())
			Expect(user.TotalStorageUsed).To(Equal(int64(2 << 30)))
		})
	})

	Context("Sweep", func() {
		It("claims and processes pending jobs", func() {
			first := newJob(model.VideoStatusPending)
			second := newJob(model.VideoStatusPending)

			Expect(w.Sweep(context.TODO())).To(BeNil())

			for _, id := range []uuid.UUID{first.ID, second.ID} {
				found, err := store.Video().Get(context.TODO(), id)
				Expect(err).To(BeNil())
				Expect(found.Status).To(Equal(model.VideoStatusCompleted))
			}
		})

		It("leaves terminal jobs untouched", func() {
			video := newJob(model.VideoStatusError)

			Expect(w.Sweep(context.TODO())).To(BeNil())

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusError))
		})
	})

	Context("Run", func() {
		It("resets stale mid-flight jobs on startup", func() {
			video := newJob(model.VideoStatusUploading)
			objects.contents[objstore.PlaylistKey(video.Name)] = []byte("#EXTM3U\n")
			gormDB.Model(&model.Video{}).Where("id = ?", video.ID).
				UpdateColumn("updated_at", time.Now().Add(-time.Hour))

			ctx, cancel := context.WithTimeout(context.TODO(), 100*time.Millisecond)
			defer cancel()
			Expect(w.Run(ctx)).To(BeNil())

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusPending))
			Expect(found.Progress).To(Equal(0.0))

			// Partial remote artifacts were purged.
			Expect(objects.has(objstore.PlaylistKey(video.Name))).To(BeFalse())
		})

		It("leaves freshly touched mid-flight jobs to their owner", func() {
			video := newJob(model.VideoStatusUploading)

			ctx, cancel := context.WithTimeout(context.TODO(), 100*time.Millisecond)
			defer cancel()
			Expect(w.Run(ctx)).To(BeNil())

			found, err := store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.VideoStatusUploading))
		})
	})
})
