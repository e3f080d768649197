package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store implements the full persistence surface over one database, one
// collection per entity.
type Store struct {
	users     *mongo.Collection
	sessions  *mongo.Collection
	remembers *mongo.Collection
	apiKeys   *mongo.Collection
	backends  *mongo.Collection
	torrents  *mongo.Collection
	statuses  *mongo.Collection
	actions   *mongo.Collection
	transfers *mongo.Collection
	settings  *mongo.Collection
	webhooks  *mongo.Collection
}

func NewStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{
		users:     db.Collection("users"),
		sessions:  db.Collection("sessions"),
		remembers: db.Collection("remember_tokens"),
		apiKeys:   db.Collection("api_keys"),
		backends:  db.Collection("servers"),
		torrents:  db.Collection("torrents"),
		statuses:  db.Collection("torrent_statuses"),
		actions:   db.Collection("torrent_actions"),
		transfers: db.Collection("transfer_jobs"),
		settings:  db.Collection("torrent_settings"),
		webhooks:  db.Collection("webhooks"),
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	type target struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}
	targets := []target{
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.sessions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		}},
		{s.remembers, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		}},
		{s.apiKeys, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "prefix", Value: 1}}},
		}},
		{s.backends, []mongo.IndexModel{
			{Keys: bson.D{{Key: "ownerId", Value: 1}}},
		}},
		{s.torrents, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "infoHash", Value: 1}, {Key: "serverId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
		{s.statuses, []mongo.IndexModel{
			{Keys: bson.D{{Key: "torrentHash", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "ownerId", Value: 1}}},
		}},
		{s.actions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "torrentHash", Value: 1}, {Key: "timestamp", Value: 1}}},
		}},
		{s.transfers, []mongo.IndexModel{
			{Keys: bson.D{{Key: "ownerId", Value: 1}}},
			{Keys: bson.D{{Key: "torrentHash", Value: 1}, {Key: "serverId", Value: 1}, {Key: "state", Value: 1}}},
		}},
		{s.settings, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "torrentHash", Value: 1}, {Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
		{s.webhooks, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "url", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
	}
	for _, t := range targets {
		if _, err := t.coll.Indexes().CreateMany(ctx, t.models); err != nil {
			return err
		}
	}
	return nil
}
