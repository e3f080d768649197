package apihttp

import (
	"io"
	"net/http"
	"time"

	"torrentgate/internal/domain"
	"torrentgate/internal/gateway"
	"torrentgate/internal/poller"
)

const maxTorrentUpload = 16 << 20

type listResponse struct {
	Torrents interface{}            `json:"torrents"`
	Errors   []gateway.BackendError `json:"errors"`
}

// handleTorrents serves the merged torrent list and new adds. Lists come
// from the poller cache when available; `?fresh=true` forces a live
// fan-out to the backends.
func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	switch r.Method {
	case http.MethodGet:
		serverID := r.URL.Query().Get("server_id")
		fresh, err := parseBoolQuery(r.URL.Query().Get("fresh"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid fresh parameter")
			return
		}

		if s.poller != nil && !fresh {
			snap, err := s.poller.Snapshot(r.Context(), user.ID, serverID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			// Until the first poll lands, answer from the backends directly.
			if len(snap.Torrents) > 0 || len(snap.Errors) == 0 {
				writeJSON(w, http.StatusOK, listResponse{
					Torrents: orEmptyCached(snap.Torrents),
					Errors:   orEmptyErrors(snap.Errors),
				})
				return
			}
		}

		result, err := s.gateway.ListTorrents(r.Context(), user, serverID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{
			Torrents: orEmptyTagged(result.Torrents),
			Errors:   orEmptyErrors(result.Errors),
		})

	case http.MethodPost:
		var req struct {
			URI      string `json:"uri"`
			ServerID string `json:"server_id"`
			Start    bool   `json:"start"`
			Priority int    `json:"priority"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Priority == 0 {
			req.Priority = domain.PriorityNormal
		}
		hash, err := s.gateway.AddURI(r.Context(), user, req.ServerID, req.URI, req.Start, req.Priority)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"hash": hash})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTorrentUpload accepts a multipart .torrent file upload.
func (s *Server) handleTorrentUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())

	if err := r.ParseMultipartForm(maxTorrentUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "torrent file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxTorrentUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "torrent file read failed")
		return
	}

	start, err := parseBoolQuery(r.FormValue("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start parameter")
		return
	}
	priority, err := parseOptionalIntQuery(r.FormValue("priority"), domain.PriorityNormal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid priority parameter")
		return
	}

	hash, err := s.gateway.AddTorrentFile(r.Context(), user, r.FormValue("server_id"), data, start, priority)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash})
}

func (s *Server) handleTorrentByHash(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	hash, action := pathTail(r.URL.Path, "/torrents")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "torrent hash is required")
		return
	}
	serverID := r.URL.Query().Get("server_id")

	switch {
	case action == "" && r.Method == http.MethodDelete:
		deleteData, err := parseBoolQuery(r.URL.Query().Get("delete_data"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid delete_data parameter")
			return
		}
		if err := s.gateway.Erase(r.Context(), user, hash, serverID, deleteData); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	case action == "start" && r.Method == http.MethodPost:
		if err := s.gateway.Start(r.Context(), user, hash, serverID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})

	case action == "stop" && r.Method == http.MethodPost:
		if err := s.gateway.Stop(r.Context(), user, hash, serverID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})

	case action == "files" && r.Method == http.MethodGet:
		files, err := s.gateway.Files(r.Context(), user, hash, serverID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, files)

	case action == "priority" && r.Method == http.MethodPost:
		var req struct {
			Priority int `json:"priority"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.gateway.SetPriority(r.Context(), user, hash, serverID, req.Priority); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case action == "file-priority" && r.Method == http.MethodPost:
		var req struct {
			Index    int `json:"index"`
			Priority int `json:"priority"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.gateway.SetFilePriority(r.Context(), user, hash, serverID, req.Index, req.Priority); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case action == "labels" && r.Method == http.MethodPut:
		var req struct {
			Labels []string `json:"labels"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.gateway.SetLabels(r.Context(), user, hash, serverID, req.Labels); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case action == "actions" && r.Method == http.MethodGet:
		normalized, err := domain.NormalizeInfoHash(hash)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		actions, err := s.store.ListActions(r.Context(), normalized)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(actions))
		for _, a := range actions {
			if a.OwnerUserID != user.ID {
				continue
			}
			out = append(out, map[string]interface{}{
				"kind":      string(a.Kind),
				"server_id": a.BackendID,
				"detail":    a.Detail,
				"timestamp": a.Timestamp,
			})
		}
		writeJSON(w, http.StatusOK, out)

	case action == "seeding" && r.Method == http.MethodGet:
		if s.recorder == nil {
			writeError(w, http.StatusServiceUnavailable, "activity recorder not available")
			return
		}
		normalized, err := domain.NormalizeInfoHash(hash)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		maxGap := 5 * time.Minute
		if s.poller != nil {
			maxGap = s.poller.Config.MaxStatusGap
		}
		duration, err := s.recorder.SeedingDuration(r.Context(), normalized, maxGap)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"hash":            normalized,
			"seeding_seconds": int64(duration.Seconds()),
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func orEmptyErrors(errs []gateway.BackendError) []gateway.BackendError {
	if errs == nil {
		return []gateway.BackendError{}
	}
	return errs
}

func orEmptyTagged(items []gateway.TaggedTorrent) []gateway.TaggedTorrent {
	if items == nil {
		return []gateway.TaggedTorrent{}
	}
	return items
}

func orEmptyCached(items []poller.CachedTorrent) []poller.CachedTorrent {
	if items == nil {
		return []poller.CachedTorrent{}
	}
	return items
}
