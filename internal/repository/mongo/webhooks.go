package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentgate/internal/domain"
)

type webhookDoc struct {
	ID        string `bson:"_id"`
	OwnerID   string `bson:"ownerId"`
	URL       string `bson:"url"`
	CreatedAt int64  `bson:"createdAt"`
}

func (s *Store) CreateWebhook(ctx context.Context, w domain.Webhook) error {
	doc := webhookDoc{
		ID:        w.ID,
		OwnerID:   w.OwnerUserID,
		URL:       w.URL,
		CreatedAt: w.CreatedAt.Unix(),
	}
	_, err := s.webhooks.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *Store) DeleteWebhook(ctx context.Context, ownerUserID, url string) error {
	res, err := s.webhooks.DeleteOne(ctx, bson.M{"ownerId": ownerUserID, "url": url})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, ownerUserID string) ([]domain.Webhook, error) {
	cursor, err := s.webhooks.Find(ctx, bson.M{"ownerId": ownerUserID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []webhookDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	hooks := make([]domain.Webhook, 0, len(docs))
	for _, doc := range docs {
		hooks = append(hooks, domain.Webhook{
			ID:          doc.ID,
			OwnerUserID: doc.OwnerID,
			URL:         doc.URL,
			CreatedAt:   timeFromUnix(doc.CreatedAt),
		})
	}
	return hooks, nil
}
