package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentgate/internal/domain"
)

type transferDoc struct {
	ID                string `bson:"_id"`
	OwnerID           string `bson:"ownerId"`
	TorrentHash       string `bson:"torrentHash"`
	ServerID          string `bson:"serverId"`
	TorrentName       string `bson:"torrentName"`
	SourcePath        string `bson:"sourcePath"`
	DestPath          string `bson:"destPath"`
	State             string `bson:"state"`
	BytesDone         int64  `bson:"bytesDone"`
	BytesTotal        int64  `bson:"bytesTotal"`
	Retries           int    `bson:"retries"`
	MaxRetries        int    `bson:"maxRetries"`
	TriggeredBy       string `bson:"triggeredBy"`
	DeleteRemoteAfter bool   `bson:"deleteRemoteAfter"`
	RemoteDeleted     bool   `bson:"remoteDeleted"`
	StartedAt         int64  `bson:"startedAt"`
	FinishedAt        *int64 `bson:"finishedAt,omitempty"`
	Error             string `bson:"error,omitempty"`
}

func toTransferDoc(j domain.TransferJob) transferDoc {
	return transferDoc{
		ID:                j.ID,
		OwnerID:           j.OwnerUserID,
		TorrentHash:       j.TorrentHash,
		ServerID:          j.BackendID,
		TorrentName:       j.TorrentName,
		SourcePath:        j.SourcePath,
		DestPath:          j.DestPath,
		State:             string(j.State),
		BytesDone:         j.BytesDone,
		BytesTotal:        j.BytesTotal,
		Retries:           j.Retries,
		MaxRetries:        j.MaxRetries,
		TriggeredBy:       j.TriggeredBy,
		DeleteRemoteAfter: j.DeleteRemoteAfter,
		RemoteDeleted:     j.RemoteDeleted,
		StartedAt:         j.StartedAt.Unix(),
		FinishedAt:        unixPtr(j.FinishedAt),
		Error:             j.Error,
	}
}

func fromTransferDoc(doc transferDoc) domain.TransferJob {
	return domain.TransferJob{
		ID:                doc.ID,
		OwnerUserID:       doc.OwnerID,
		TorrentHash:       doc.TorrentHash,
		BackendID:         doc.ServerID,
		TorrentName:       doc.TorrentName,
		SourcePath:        doc.SourcePath,
		DestPath:          doc.DestPath,
		State:             domain.TransferState(doc.State),
		BytesDone:         doc.BytesDone,
		BytesTotal:        doc.BytesTotal,
		Retries:           doc.Retries,
		MaxRetries:        doc.MaxRetries,
		TriggeredBy:       doc.TriggeredBy,
		DeleteRemoteAfter: doc.DeleteRemoteAfter,
		RemoteDeleted:     doc.RemoteDeleted,
		StartedAt:         timeFromUnix(doc.StartedAt),
		FinishedAt:        timePtr(doc.FinishedAt),
		Error:             doc.Error,
	}
}

func (s *Store) CreateTransferJob(ctx context.Context, j domain.TransferJob) error {
	_, err := s.transfers.InsertOne(ctx, toTransferDoc(j))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *Store) GetTransferJob(ctx context.Context, id string) (domain.TransferJob, error) {
	var doc transferDoc
	if err := s.transfers.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TransferJob{}, domain.ErrNotFound
		}
		return domain.TransferJob{}, err
	}
	return fromTransferDoc(doc), nil
}

func (s *Store) UpdateTransferJob(ctx context.Context, j domain.TransferJob) error {
	res, err := s.transfers.ReplaceOne(ctx, bson.M{"_id": j.ID}, toTransferDoc(j))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) FindActiveTransferJob(ctx context.Context, torrentHash, backendID string) (domain.TransferJob, error) {
	query := bson.M{
		"torrentHash": torrentHash,
		"serverId":    backendID,
		"state":       bson.M{"$in": []string{string(domain.TransferPending), string(domain.TransferRunning)}},
	}
	var doc transferDoc
	if err := s.transfers.FindOne(ctx, query).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TransferJob{}, domain.ErrNotFound
		}
		return domain.TransferJob{}, err
	}
	return fromTransferDoc(doc), nil
}

func (s *Store) ListTransferJobs(ctx context.Context, ownerUserID string) ([]domain.TransferJob, error) {
	return s.findTransfers(ctx, bson.M{"ownerId": ownerUserID})
}

func (s *Store) ListTransferJobsByState(ctx context.Context, states ...domain.TransferState) ([]domain.TransferJob, error) {
	values := make([]string, 0, len(states))
	for _, st := range states {
		values = append(values, string(st))
	}
	return s.findTransfers(ctx, bson.M{"state": bson.M{"$in": values}})
}

func (s *Store) findTransfers(ctx context.Context, query bson.M) ([]domain.TransferJob, error) {
	cursor, err := s.transfers.Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []transferDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	jobs := make([]domain.TransferJob, 0, len(docs))
	for _, doc := range docs {
		jobs = append(jobs, fromTransferDoc(doc))
	}
	return jobs, nil
}

type settingDoc struct {
	OwnerID     string `bson:"ownerId"`
	TorrentHash string `bson:"torrentHash"`
	Key         string `bson:"key"`
	Value       string `bson:"value"`
}

func (s *Store) SetTorrentSetting(ctx context.Context, v domain.TorrentSetting) error {
	filter := bson.M{"ownerId": v.OwnerUserID, "torrentHash": v.TorrentHash, "key": v.Key}
	doc := settingDoc{OwnerID: v.OwnerUserID, TorrentHash: v.TorrentHash, Key: v.Key, Value: v.Value}
	_, err := s.settings.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) GetTorrentSettings(ctx context.Context, ownerUserID, torrentHash string) ([]domain.TorrentSetting, error) {
	cursor, err := s.settings.Find(ctx, bson.M{"ownerId": ownerUserID, "torrentHash": torrentHash})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []settingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	settings := make([]domain.TorrentSetting, 0, len(docs))
	for _, doc := range docs {
		settings = append(settings, domain.TorrentSetting{
			OwnerUserID: doc.OwnerID,
			TorrentHash: doc.TorrentHash,
			Key:         doc.Key,
			Value:       doc.Value,
		})
	}
	return settings, nil
}
