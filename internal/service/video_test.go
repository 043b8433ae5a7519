package service_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/Nxdus/clustra-project/internal/cdn"
	"github.com/Nxdus/clustra-project/internal/config"
	"github.com/Nxdus/clustra-project/internal/objstore"
	"github.com/Nxdus/clustra-project/internal/progress"
	"github.com/Nxdus/clustra-project/internal/quota"
	"github.com/Nxdus/clustra-project/internal/service"
	st "github.com/Nxdus/clustra-project/internal/store"
	"github.com/Nxdus/clustra-project/internal/store/model"
	"github.com/Nxdus/clustra-project/internal/worker"
)

func TestService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Service Suite")
}

type fakeObjects struct {
	mu       sync.Mutex
	contents map[string][]byte
	deletes  [][]string
	putErr   error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{contents: make(map[string][]byte)}
}

func (f *fakeObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
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
	f.deletes = append(f.deletes, keys)
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

var _ objstore.Client = (*fakeObjects)(nil)

func validMP4() []byte {
	data := make([]byte, 32)
	copy(data[4:8], []byte("ftyp"))
	return data
}

var _ = Describe("VideoService", Ordered, func() {
	var (
		store   st.Store
		gormDB  *gorm.DB
		objects *fakeObjects
		tracker *progress.Tracker
		videos  *service.VideoService
	)

	BeforeAll(func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "service.db")

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
		videos = service.NewVideoService(
			store,
			objects,
			quota.NewGuard(store.User()),
			tracker,
			worker.NewCancelRegistry(),
			cdn.NewNoopInvalidator(),
			"cdn.example.com",
		)
	})

	AfterEach(func() {
		gormDB.Exec("DELETE FROM videos;")
		gormDB.Exec("DELETE FROM users;")
	})

	Context("SubmitUpload", func() {
		It("creates a pending job and stashes the source", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())
			Expect(video.Status).To(Equal(model.VideoStatusPending))
			Expect(video.Name).To(HaveLen(12))
			Expect(video.URL).To(Equal("https://cdn.example.com/converted/" + video.Name + "/" + video.Name + ".m3u8"))

			_, ok := objects.contents[objstore.OriginalKey(video.Name)]
			Expect(ok).To(BeTrue())

			entry, ok := tracker.Get(video.ID.String())
			Expect(ok).To(BeTrue())
			Expect(entry.Phase).To(Equal(progress.PhasePending))

			user, err := store.User().Get(context.TODO(), "user-1")
			Expect(err).To(BeNil())
			Expect(user.Plan).To(Equal(model.PlanFree))
			Expect(user.MonthlyUploads).To(Equal(1))
		})

		It("rejects files without an mp4 extension", func() {
			_, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.avi", validMP4())
			Expect(err).To(HaveOccurred())
			_, ok := err.(*service.ErrInvalidInput)
			Expect(ok).To(BeTrue())
		})

		It("rejects files without an mp4 container header", func() {
			_, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", []byte("definitely not a video"))
			Expect(err).To(HaveOccurred())
			_, ok := err.(*service.ErrInvalidInput)
			Expect(ok).To(BeTrue())
		})

		It("enforces the monthly upload cap", func() {
			for i := 0; i < 5; i++ {
				_, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
				Expect(err).To(BeNil())
			}

			_, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(HaveOccurred())
			Expect(errors.As(err, new(*quota.ErrQuotaExceeded))).To(BeTrue())
		})
	})

	Context("GetStatus", func() {
		It("serves in-flight progress from the tracker", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())

			tracker.Update(video.ID.String(), 55, progress.PhaseProcessing)

			info, err := videos.GetStatus(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(info.Status).To(Equal(string(model.VideoStatusProcessing)))
			Expect(info.Progress).To(Equal(55.0))
			Expect(info.IsCompleted).To(BeFalse())
		})

		It("spells the status the same from the tracker and the row", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())
			gormDB.Model(&model.Video{}).Where("id = ?", video.ID).
				Update("status", model.VideoStatusProcessing)

			tracker.Update(video.ID.String(), 10, progress.PhaseProcessing)
			fromTracker, err := videos.GetStatus(context.TODO(), video.ID)
			Expect(err).To(BeNil())

			tracker.Clear(video.ID.String())
			fromRow, err := videos.GetStatus(context.TODO(), video.ID)
			Expect(err).To(BeNil())

			Expect(fromTracker.Status).To(Equal(fromRow.Status))
			Expect(fromTracker.Status).To(Equal("PROCESSING"))
		})

		It("falls back to the durable row and exposes the URL once completed", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())
			tracker.Clear(video.ID.String())

			gormDB.Model(&model.Video{}).Where("id = ?", video.ID).
				Updates(map[string]interface{}{"status": model.VideoStatusCompleted, "progress": 100.0})

			info, err := videos.GetStatus(context.TODO(), video.ID)
			Expect(err).To(BeNil())
			Expect(info.Status).To(Equal("COMPLETED"))
			Expect(info.IsCompleted).To(BeTrue())
			Expect(info.URL).To(Equal(video.URL))
		})

		It("reports not found for an unknown job", func() {
			_, err := videos.GetStatus(context.TODO(), uuid.New())
			Expect(err).To(HaveOccurred())
			_, ok := err.(*service.ErrResourceNotFound)
			Expect(ok).To(BeTrue())
		})
	})

	Context("Cancel", func() {
		It("erases a pending job entirely", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())

			Expect(videos.Cancel(context.TODO(), video.ID)).To(BeNil())

			_, err = store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(Equal(st.ErrRecordNotFound))

			_, ok := objects.contents[objstore.OriginalKey(video.Name)]
			Expect(ok).To(BeFalse())

			_, ok = tracker.Get(video.ID.String())
			Expect(ok).To(BeFalse())
		})

		It("refuses to cancel a finished job", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())

			gormDB.Model(&model.Video{}).Where("id = ?", video.ID).
				Update("status", model.VideoStatusCompleted)

			err = videos.Cancel(context.TODO(), video.ID)
			Expect(err).To(HaveOccurred())
			_, ok := err.(*service.ErrJobAlreadyFinished)
			Expect(ok).To(BeTrue())
		})

		It("reports not found for an unknown job", func() {
			err := videos.Cancel(context.TODO(), uuid.New())
			Expect(err).To(HaveOccurred())
			_, ok := err.(*service.ErrResourceNotFound)
			Expect(ok).To(BeTrue())
		})
	})

	Context("Delete", func() {
		It("refuses to delete a job that is still running", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())

			gormDB.Model(&model.Video{}).Where("id = ?", video.ID).
				Update("status", model.VideoStatusProcessing)

			err = videos.Delete(context.TODO(), video.ID)
			Expect(err).To(HaveOccurred())
			_, ok := err.(*service.ErrVideoNotDeletable)
			Expect(ok).To(BeTrue())
		})

		It("removes artifacts and reclaims storage for a completed video", func() {
			video, err := videos.SubmitUpload(context.TODO(), "user-1", "holiday.mp4", validMP4())
			Expect(err).To(BeNil())

			// Simulate a completed run: artifacts in the store, size on the
			// row, storage charged to the owner.
			objects.contents[objstore.PlaylistKey(video.Name)] = []byte("#EXTM3U\n")
			objects.contents[objstore.ConvertedPrefix(video.Name)+"/"+video.Name+"-000.ts"] = []byte("ts")
			gormDB.Model(&model.Video{}).Where("id = ?", video.ID).
				Updates(map[string]interface{}{"status": model.VideoStatusCompleted, "file_size": 4096})
			Expect(store.User().AddStorageUsed(context.TODO(), "user-1", 4096)).To(BeNil())

			Expect(videos.Delete(context.TODO(), video.ID)).To(BeNil())

			_, err = store.Video().Get(context.TODO(), video.ID)
			Expect(err).To(Equal(st.ErrRecordNotFound))

			keys, err := objects.List(context.TODO(), objstore.ConvertedPrefix(video.Name))
			Expect(err).To(BeNil())
			Expect(keys).To(BeEmpty())

			user, err := store.User().Get(context.TODO(), "user-1")
			Expect(err).To(BeNil())
			Expect(user.TotalStorageUsed).To(Equal(int64(0)))
		})
	})
})
