package apihttp

import (
	"net/http"

	"torrentgate/internal/domain"
	"torrentgate/internal/transfer"
)

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if s.transfers == nil {
		writeError(w, http.StatusServiceUnavailable, "transfers not available")
		return
	}
	user := userFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		jobs, err := s.store.ListTransferJobs(r.Context(), user.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if jobs == nil {
			jobs = []domain.TransferJob{}
		}
		writeJSON(w, http.StatusOK, jobs)

	case http.MethodPost:
		var req struct {
			TorrentHash       string `json:"torrent_hash"`
			ServerID          string `json:"server_id"`
			DestPath          string `json:"dest_path"`
			DeleteRemoteAfter bool   `json:"delete_remote_after"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		job, err := s.transfers.Submit(r.Context(), user, transfer.SubmitRequest{
			TorrentHash:       req.TorrentHash,
			BackendID:         req.ServerID,
			DestPath:          req.DestPath,
			DeleteRemoteAfter: req.DeleteRemoteAfter,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTransferByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := pathTail(r.URL.Path, "/transfers")
	if id == "" {
		writeError(w, http.StatusBadRequest, "transfer id is required")
		return
	}
	job, err := s.store.GetTransferJob(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if job.OwnerUserID != userFrom(r.Context()).ID {
		writeError(w, http.StatusNotFound, "transfer not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
