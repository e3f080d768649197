package apihttp

import (
	"net/http"
	"path/filepath"
	"strings"
)

type streamResponse struct {
	JobID             string  `json:"job_id"`
	ServerID          string  `json:"server_id"`
	FilePath          string  `json:"file_path"`
	PlaylistURL       string  `json:"playlist_url"`
	Status            string  `json:"status"`
	MediaType         string  `json:"media_type"`
	TranscodedSeconds float64 `json:"transcoded_seconds"`
	DurationSeconds   float64 `json:"duration_seconds"`
	Error             string  `json:"error,omitempty"`
}

func newStreamResponse(job *StreamJob) streamResponse {
	info := job.Info()
	return streamResponse{
		JobID:             job.ID,
		ServerID:          job.BackendID,
		FilePath:          job.FilePath,
		PlaylistURL:       "/streams/" + job.ID + "/index.m3u8",
		Status:            string(info.Status),
		MediaType:         info.MediaType,
		TranscodedSeconds: info.TranscodedSeconds,
		DurationSeconds:   info.DurationSeconds,
		Error:             info.Error,
	}
}

// handleStreams lists the caller's HLS jobs and starts new ones. Starting
// a stream for a file that is already being transcoded returns the
// existing job.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming not available")
		return
	}
	user := userFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		jobs := s.streams.Jobs(user.ID)
		out := make([]streamResponse, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, newStreamResponse(job))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			ServerID string `json:"server_id"`
			FilePath string `json:"file_path"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.FilePath == "" {
			writeError(w, http.StatusBadRequest, "file_path is required")
			return
		}
		b, err := s.ownedBackend(r, user, req.ServerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		job, err := s.streams.EnsureJob(b, user, req.FilePath)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newStreamResponse(job))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleStreamByID serves job status, the HLS playlist and segments, and
// stops jobs. Segment paths are confined to the job's scratch directory.
func (s *Server) handleStreamByID(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming not available")
		return
	}
	user := userFrom(r.Context())

	id, rest := pathTail(r.URL.Path, "/streams")
	if id == "" {
		writeError(w, http.StatusBadRequest, "stream id is required")
		return
	}
	job, ok := s.streams.Job(id)
	if !ok || job.OwnerUserID != user.ID {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, newStreamResponse(job))

	case rest == "" && r.Method == http.MethodDelete:
		s.streams.Stop(job.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})

	case r.Method == http.MethodGet && (strings.HasSuffix(rest, ".m3u8") || strings.HasSuffix(rest, ".ts")):
		name := filepath.Base(rest)
		if name != rest {
			writeError(w, http.StatusBadRequest, "invalid segment name")
			return
		}
		if strings.HasSuffix(name, ".m3u8") {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		} else {
			w.Header().Set("Content-Type", "video/mp2t")
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(job.Dir, name))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
