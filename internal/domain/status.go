package domain

import "time"

// Status is one append-only observation of a torrent, written by the
// maintenance loop and the poller.
type Status struct {
	TorrentHash string
	BackendID   string
	OwnerUserID string
	IsSeeding   bool
	IsPrivate   bool
	Progress    float64
	DownRate    int64
	UpRate      int64
	Peers       int
	Seeds       int
	Timestamp   time.Time
}

type ActionKind string

const (
	ActionAdd           ActionKind = "add"
	ActionStart         ActionKind = "start"
	ActionStop          ActionKind = "stop"
	ActionRemove        ActionKind = "remove"
	ActionTransferStart ActionKind = "transfer_start"
	ActionTransferDone  ActionKind = "transfer_done"
	ActionError         ActionKind = "error"
)

// Action is an append-only audit row for user and scheduler operations.
type Action struct {
	TorrentHash string
	OwnerUserID string
	BackendID   string
	Kind        ActionKind
	Detail      string
	Timestamp   time.Time
}
