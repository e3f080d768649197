package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentgate/internal/domain"
)

type torrentDoc struct {
	InfoHash  string   `bson:"infoHash"`
	OwnerID   string   `bson:"ownerId"`
	ServerID  string   `bson:"serverId"`
	Name      string   `bson:"name"`
	Size      int64    `bson:"size"`
	IsPrivate bool     `bson:"isPrivate"`
	BasePath  string   `bson:"basePath,omitempty"`
	AddedAt   int64    `bson:"addedAt"`
	Labels    []string `bson:"labels,omitempty"`
}

func toTorrentDoc(t domain.TorrentRecord) torrentDoc {
	return torrentDoc{
		InfoHash:  t.InfoHash,
		OwnerID:   t.OwnerUserID,
		ServerID:  t.BackendID,
		Name:      t.Name,
		Size:      t.Size,
		IsPrivate: t.IsPrivate,
		BasePath:  t.BasePath,
		AddedAt:   t.AddedAt.Unix(),
		Labels:    t.Labels,
	}
}

func fromTorrentDoc(doc torrentDoc) domain.TorrentRecord {
	return domain.TorrentRecord{
		InfoHash:    doc.InfoHash,
		OwnerUserID: doc.OwnerID,
		BackendID:   doc.ServerID,
		Name:        doc.Name,
		Size:        doc.Size,
		IsPrivate:   doc.IsPrivate,
		BasePath:    doc.BasePath,
		AddedAt:     timeFromUnix(doc.AddedAt),
		Labels:      doc.Labels,
	}
}

func torrentKey(ownerUserID, infoHash, backendID string) bson.M {
	return bson.M{"ownerId": ownerUserID, "infoHash": infoHash, "serverId": backendID}
}

func (s *Store) UpsertTorrent(ctx context.Context, t domain.TorrentRecord) error {
	_, err := s.torrents.ReplaceOne(ctx,
		torrentKey(t.OwnerUserID, t.InfoHash, t.BackendID),
		toTorrentDoc(t),
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *Store) GetTorrent(ctx context.Context, ownerUserID, infoHash, backendID string) (domain.TorrentRecord, error) {
	var doc torrentDoc
	if err := s.torrents.FindOne(ctx, torrentKey(ownerUserID, infoHash, backendID)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TorrentRecord{}, domain.ErrNotFound
		}
		return domain.TorrentRecord{}, err
	}
	return fromTorrentDoc(doc), nil
}

func (s *Store) ListTorrents(ctx context.Context, ownerUserID string) ([]domain.TorrentRecord, error) {
	cursor, err := s.torrents.Find(ctx, bson.M{"ownerId": ownerUserID},
		options.Find().SetSort(bson.D{{Key: "addedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []torrentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]domain.TorrentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromTorrentDoc(doc))
	}
	return records, nil
}

func (s *Store) DeleteTorrent(ctx context.Context, ownerUserID, infoHash, backendID string) error {
	res, err := s.torrents.DeleteOne(ctx, torrentKey(ownerUserID, infoHash, backendID))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTorrentsByBackend(ctx context.Context, backendID string) error {
	_, err := s.torrents.DeleteMany(ctx, bson.M{"serverId": backendID})
	return err
}

type statusDoc struct {
	TorrentHash string  `bson:"torrentHash"`
	ServerID    string  `bson:"serverId"`
	OwnerID     string  `bson:"ownerId"`
	IsSeeding   bool    `bson:"isSeeding"`
	IsPrivate   bool    `bson:"isPrivate"`
	Progress    float64 `bson:"progress"`
	DownRate    int64   `bson:"downRate"`
	UpRate      int64   `bson:"upRate"`
	Peers       int     `bson:"peers"`
	Seeds       int     `bson:"seeds"`
	Timestamp   int64   `bson:"timestamp"`
}

func (s *Store) AppendStatus(ctx context.Context, v domain.Status) error {
	doc := statusDoc{
		TorrentHash: v.TorrentHash,
		ServerID:    v.BackendID,
		OwnerID:     v.OwnerUserID,
		IsSeeding:   v.IsSeeding,
		IsPrivate:   v.IsPrivate,
		Progress:    v.Progress,
		DownRate:    v.DownRate,
		UpRate:      v.UpRate,
		Peers:       v.Peers,
		Seeds:       v.Seeds,
		Timestamp:   v.Timestamp.Unix(),
	}
	_, err := s.statuses.InsertOne(ctx, doc)
	return err
}

func (s *Store) ListStatuses(ctx context.Context, torrentHash string) ([]domain.Status, error) {
	cursor, err := s.statuses.Find(ctx, bson.M{"torrentHash": torrentHash},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []statusDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	statuses := make([]domain.Status, 0, len(docs))
	for _, doc := range docs {
		statuses = append(statuses, domain.Status{
			TorrentHash: doc.TorrentHash,
			BackendID:   doc.ServerID,
			OwnerUserID: doc.OwnerID,
			IsSeeding:   doc.IsSeeding,
			IsPrivate:   doc.IsPrivate,
			Progress:    doc.Progress,
			DownRate:    doc.DownRate,
			UpRate:      doc.UpRate,
			Peers:       doc.Peers,
			Seeds:       doc.Seeds,
			Timestamp:   timeFromUnix(doc.Timestamp),
		})
	}
	return statuses, nil
}

// NeverSeededHashes returns the hashes observed for the user that have no
// seeding status row at all.
func (s *Store) NeverSeededHashes(ctx context.Context, ownerUserID string) ([]string, error) {
	all, err := s.statuses.Distinct(ctx, "torrentHash", bson.M{"ownerId": ownerUserID})
	if err != nil {
		return nil, err
	}
	seeded, err := s.statuses.Distinct(ctx, "torrentHash", bson.M{"ownerId": ownerUserID, "isSeeding": true})
	if err != nil {
		return nil, err
	}
	seededSet := make(map[string]struct{}, len(seeded))
	for _, v := range seeded {
		if h, ok := v.(string); ok {
			seededSet[h] = struct{}{}
		}
	}
	var hashes []string
	for _, v := range all {
		h, ok := v.(string)
		if !ok {
			continue
		}
		if _, ok := seededSet[h]; !ok {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

func (s *Store) PruneStatuses(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.statuses.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": before.Unix()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type actionDoc struct {
	TorrentHash string `bson:"torrentHash"`
	OwnerID     string `bson:"ownerId"`
	ServerID    string `bson:"serverId"`
	Kind        string `bson:"kind"`
	Detail      string `bson:"detail,omitempty"`
	Timestamp   int64  `bson:"timestamp"`
}

func (s *Store) AppendAction(ctx context.Context, a domain.Action) error {
	doc := actionDoc{
		TorrentHash: a.TorrentHash,
		OwnerID:     a.OwnerUserID,
		ServerID:    a.BackendID,
		Kind:        string(a.Kind),
		Detail:      a.Detail,
		Timestamp:   a.Timestamp.Unix(),
	}
	_, err := s.actions.InsertOne(ctx, doc)
	return err
}

func (s *Store) ListActions(ctx context.Context, torrentHash string) ([]domain.Action, error) {
	cursor, err := s.actions.Find(ctx, bson.M{"torrentHash": torrentHash},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []actionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	actions := make([]domain.Action, 0, len(docs))
	for _, doc := range docs {
		actions = append(actions, domain.Action{
			TorrentHash: doc.TorrentHash,
			OwnerUserID: doc.OwnerID,
			BackendID:   doc.ServerID,
			Kind:        domain.ActionKind(doc.Kind),
			Detail:      doc.Detail,
			Timestamp:   timeFromUnix(doc.Timestamp),
		})
	}
	return actions, nil
}
