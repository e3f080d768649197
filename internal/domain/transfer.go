package domain

import "time"

type TransferState string

const (
	TransferPending TransferState = "pending"
	TransferRunning TransferState = "running"
	TransferDone    TransferState = "done"
	TransferFailed  TransferState = "failed"
)

// TransferJob moves a completed remote torrent payload to local storage.
// At most one pending or running job exists per (TorrentHash, BackendID).
type TransferJob struct {
	ID                string        `json:"id"`
	OwnerUserID       string        `json:"-"`
	TorrentHash       string        `json:"torrent_hash"`
	BackendID         string        `json:"server_id"`
	TorrentName       string        `json:"torrent_name"`
	SourcePath        string        `json:"source_path"`
	DestPath          string        `json:"dest_path"`
	State             TransferState `json:"state"`
	BytesDone         int64         `json:"bytes_done"`
	BytesTotal        int64         `json:"bytes_total"`
	Retries           int           `json:"retries"`
	MaxRetries        int           `json:"max_retries"`
	TriggeredBy       string        `json:"triggered_by"`
	DeleteRemoteAfter bool          `json:"delete_remote_after"`
	RemoteDeleted     bool          `json:"remote_deleted"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        *time.Time    `json:"finished_at,omitempty"`
	Error             string        `json:"error,omitempty"`
}

func (j TransferJob) Active() bool {
	return j.State == TransferPending || j.State == TransferRunning
}
