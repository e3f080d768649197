package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"torrentgate/internal/domain"
)

type userDoc struct {
	ID           string `bson:"_id"`
	Username     string `bson:"username"`
	PasswordHash string `bson:"passwordHash"`
	IsAdmin      bool   `bson:"isAdmin"`
	CreatedAt    int64  `bson:"createdAt"`
}

func toUserDoc(u domain.User) userDoc {
	return userDoc{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		IsAdmin:      u.IsAdmin,
		CreatedAt:    u.CreatedAt.Unix(),
	}
}

func fromUserDoc(doc userDoc) domain.User {
	return domain.User{
		ID:           doc.ID,
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		IsAdmin:      doc.IsAdmin,
		CreatedAt:    timeFromUnix(doc.CreatedAt),
	}
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.users.InsertOne(ctx, toUserDoc(u))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return fromUserDoc(doc), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return fromUserDoc(doc), nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	return s.users.CountDocuments(ctx, bson.M{})
}

// DeleteUser removes the user and cascades to everything they own. The
// status and action logs stay as hash-keyed history until retention
// pruning.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}

	owned := []struct {
		coll   *mongo.Collection
		filter bson.M
	}{
		{s.backends, bson.M{"ownerId": id}},
		{s.torrents, bson.M{"ownerId": id}},
		{s.sessions, bson.M{"userId": id}},
		{s.remembers, bson.M{"userId": id}},
		{s.apiKeys, bson.M{"userId": id}},
		{s.transfers, bson.M{"ownerId": id}},
		{s.settings, bson.M{"ownerId": id}},
		{s.webhooks, bson.M{"ownerId": id}},
	}
	for _, o := range owned {
		if _, err := o.coll.DeleteMany(ctx, o.filter); err != nil {
			return err
		}
	}
	return nil
}

type sessionDoc struct {
	ID           string `bson:"_id"`
	UserID       string `bson:"userId"`
	CreatedAt    int64  `bson:"createdAt"`
	LastActivity int64  `bson:"lastActivity"`
	ExpiresAt    int64  `bson:"expiresAt"`
	IP           string `bson:"ip,omitempty"`
	UserAgent    string `bson:"userAgent,omitempty"`
}

func toSessionDoc(v domain.Session) sessionDoc {
	return sessionDoc{
		ID:           v.ID,
		UserID:       v.UserID,
		CreatedAt:    v.CreatedAt.Unix(),
		LastActivity: v.LastActivity.Unix(),
		ExpiresAt:    v.ExpiresAt.Unix(),
		IP:           v.IP,
		UserAgent:    v.UserAgent,
	}
}

func fromSessionDoc(doc sessionDoc) domain.Session {
	return domain.Session{
		ID:           doc.ID,
		UserID:       doc.UserID,
		CreatedAt:    timeFromUnix(doc.CreatedAt),
		LastActivity: timeFromUnix(doc.LastActivity),
		ExpiresAt:    timeFromUnix(doc.ExpiresAt),
		IP:           doc.IP,
		UserAgent:    doc.UserAgent,
	}
}

func (s *Store) CreateSession(ctx context.Context, v domain.Session) error {
	_, err := s.sessions.InsertOne(ctx, toSessionDoc(v))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var doc sessionDoc
	if err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, err
	}
	return fromSessionDoc(doc), nil
}

func (s *Store) UpdateSession(ctx context.Context, v domain.Session) error {
	res, err := s.sessions.ReplaceOne(ctx, bson.M{"_id": v.ID}, toSessionDoc(v))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sessions.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now.Unix()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type rememberDoc struct {
	ID        string `bson:"_id"`
	UserID    string `bson:"userId"`
	CreatedAt int64  `bson:"createdAt"`
	ExpiresAt int64  `bson:"expiresAt"`
	IP        string `bson:"ip,omitempty"`
	UserAgent string `bson:"userAgent,omitempty"`
	Revoked   bool   `bson:"revoked"`
}

func (s *Store) CreateRememberToken(ctx context.Context, t domain.RememberToken) error {
	doc := rememberDoc{
		ID:        t.ID,
		UserID:    t.UserID,
		CreatedAt: t.CreatedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
		IP:        t.IP,
		UserAgent: t.UserAgent,
		Revoked:   t.Revoked,
	}
	_, err := s.remembers.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *Store) GetRememberToken(ctx context.Context, id string) (domain.RememberToken, error) {
	var doc rememberDoc
	if err := s.remembers.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.RememberToken{}, domain.ErrNotFound
		}
		return domain.RememberToken{}, err
	}
	return domain.RememberToken{
		ID:        doc.ID,
		UserID:    doc.UserID,
		CreatedAt: timeFromUnix(doc.CreatedAt),
		ExpiresAt: timeFromUnix(doc.ExpiresAt),
		IP:        doc.IP,
		UserAgent: doc.UserAgent,
		Revoked:   doc.Revoked,
	}, nil
}

func (s *Store) RevokeRememberToken(ctx context.Context, id string) error {
	res, err := s.remembers.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredRememberTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.remembers.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now.Unix()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type apiKeyDoc struct {
	Key        string `bson:"_id"`
	Prefix     string `bson:"prefix"`
	UserID     string `bson:"userId"`
	Name       string `bson:"name"`
	CreatedAt  int64  `bson:"createdAt"`
	LastUsedAt *int64 `bson:"lastUsedAt,omitempty"`
	ExpiresAt  *int64 `bson:"expiresAt,omitempty"`
	Revoked    bool   `bson:"revoked"`
}

func toAPIKeyDoc(k domain.APIKey) apiKeyDoc {
	return apiKeyDoc{
		Key:        k.Key,
		Prefix:     k.Prefix,
		UserID:     k.UserID,
		Name:       k.Name,
		CreatedAt:  k.CreatedAt.Unix(),
		LastUsedAt: unixPtr(k.LastUsedAt),
		ExpiresAt:  unixPtr(k.ExpiresAt),
		Revoked:    k.Revoked,
	}
}

func fromAPIKeyDoc(doc apiKeyDoc) domain.APIKey {
	return domain.APIKey{
		Key:        doc.Key,
		Prefix:     doc.Prefix,
		UserID:     doc.UserID,
		Name:       doc.Name,
		CreatedAt:  timeFromUnix(doc.CreatedAt),
		LastUsedAt: timePtr(doc.LastUsedAt),
		ExpiresAt:  timePtr(doc.ExpiresAt),
		Revoked:    doc.Revoked,
	}
}

func (s *Store) CreateAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := s.apiKeys.InsertOne(ctx, toAPIKeyDoc(k))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *Store) GetAPIKeyByValue(ctx context.Context, key string) (domain.APIKey, error) {
	var doc apiKeyDoc
	if err := s.apiKeys.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, err
	}
	return fromAPIKeyDoc(doc), nil
}

func (s *Store) GetAPIKeyByPrefix(ctx context.Context, userID, prefix string) (domain.APIKey, error) {
	var doc apiKeyDoc
	if err := s.apiKeys.FindOne(ctx, bson.M{"userId": userID, "prefix": prefix}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, err
	}
	return fromAPIKeyDoc(doc), nil
}

func (s *Store) UpdateAPIKey(ctx context.Context, k domain.APIKey) error {
	res, err := s.apiKeys.ReplaceOne(ctx, bson.M{"_id": k.Key}, toAPIKeyDoc(k))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string, includeRevoked bool) ([]domain.APIKey, error) {
	query := bson.M{"userId": userID}
	if !includeRevoked {
		query["revoked"] = false
	}
	cursor, err := s.apiKeys.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []apiKeyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	keys := make([]domain.APIKey, 0, len(docs))
	for _, doc := range docs {
		keys = append(keys, fromAPIKeyDoc(doc))
	}
	return keys, nil
}

func (s *Store) DeleteExpiredAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.apiKeys.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$ne": nil, "$lte": now.Unix()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

func timePtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := timeFromUnix(*v)
	return &t
}
