package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Nxdus/clustra-project/internal/quota"
	"github.com/Nxdus/clustra-project/internal/service"
)

// maxUploadBytes bounds the multipart body; sources beyond this are rejected
// before any work begins.
const maxUploadBytes = 2 << 30

type VideoHandler struct {
	videos *service.VideoService
}

func NewVideoHandler(videos *service.VideoService) *VideoHandler {
	return &VideoHandler{videos: videos}
}

func (h *VideoHandler) Register(router chi.Router) {
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/uploads", h.SubmitUpload)
		r.Get("/uploads/{id}/status", h.GetStatus)
		r.Delete("/uploads/{id}", h.Cancel)
		r.Get("/videos", h.ListVideos)
		r.Delete("/videos/{id}", h.DeleteVideo)
	})
}

type submitResponse struct {
	JobID string `json:"jobId"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

func (h *VideoHandler) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload body")
		return
	}

	video, err := h.videos.SubmitUpload(r.Context(), userID, header.Filename, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID: video.ID.String(),
		Name:  video.Name,
		URL:   video.URL,
	})
}

func (h *VideoHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	info, err := h.videos.GetStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *VideoHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if err := h.videos.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}

	videos, err := h.videos.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

func (h *VideoHandler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if err := h.videos.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// principal resolves the authenticated account. Authentication itself is an
// external collaborator; it hands us the id in a trusted header.
func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return userID, true
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.UUID{}, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var (
		invalidInput   *service.ErrInvalidInput
		notFound       *service.ErrResourceNotFound
		finished       *service.ErrJobAlreadyFinished
		notCancellable *service.ErrJobNotCancellable
		notDeletable   *service.ErrVideoNotDeletable
		quotaExceeded  *quota.ErrQuotaExceeded
		storageLimit   *quota.ErrStorageExceeded
	)

	switch {
	case errors.As(err, &invalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &quotaExceeded), errors.As(err, &storageLimit):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &finished), errors.As(err, &notCancellable), errors.As(err, &notDeletable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
