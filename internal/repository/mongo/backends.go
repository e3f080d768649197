package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"torrentgate/internal/domain"
)

type backendAuthDoc struct {
	Username string `bson:"username"`
	Password string `bson:"password"`
}

type httpDownloadDoc struct {
	Enabled bool            `bson:"enabled"`
	Host    string          `bson:"host"`
	Port    int             `bson:"port"`
	Path    string          `bson:"path"`
	UseSSL  bool            `bson:"useSsl"`
	Auth    *backendAuthDoc `bson:"auth,omitempty"`
}

type autoDownloadDoc struct {
	Enabled           bool   `bson:"enabled"`
	LocalPath         string `bson:"localPath"`
	DeleteRemoteAfter bool   `bson:"deleteRemoteAfter"`
}

type sshDoc struct {
	Host    string `bson:"host"`
	Port    int    `bson:"port"`
	User    string `bson:"user"`
	KeyPath string `bson:"keyPath"`
}

type backendDoc struct {
	ID           string           `bson:"_id"`
	OwnerID      string           `bson:"ownerId"`
	Name         string           `bson:"name"`
	Kind         string           `bson:"kind"`
	Host         string           `bson:"host"`
	Port         int              `bson:"port"`
	RPCPath      string           `bson:"rpcPath,omitempty"`
	UseSSL       bool             `bson:"useSsl"`
	Auth         *backendAuthDoc  `bson:"auth,omitempty"`
	Enabled      bool             `bson:"enabled"`
	IsDefault    bool             `bson:"isDefault"`
	DownloadDir  string           `bson:"downloadDir,omitempty"`
	MountPath    string           `bson:"mountPath,omitempty"`
	HTTPDownload *httpDownloadDoc `bson:"httpDownload,omitempty"`
	AutoDownload *autoDownloadDoc `bson:"autoDownload,omitempty"`
	SSH          *sshDoc          `bson:"ssh,omitempty"`
	Version      int64            `bson:"version"`
	CreatedAt    int64            `bson:"createdAt"`
}

func toBackendDoc(b domain.Backend) backendDoc {
	doc := backendDoc{
		ID:          b.ID,
		OwnerID:     b.OwnerUserID,
		Name:        b.Name,
		Kind:        string(b.Kind),
		Host:        b.Host,
		Port:        b.Port,
		RPCPath:     b.RPCPath,
		UseSSL:      b.UseSSL,
		Enabled:     b.Enabled,
		IsDefault:   b.IsDefault,
		DownloadDir: b.DownloadDir,
		MountPath:   b.MountPath,
		Version:     b.Version,
		CreatedAt:   b.CreatedAt.Unix(),
	}
	if b.Auth != nil {
		doc.Auth = &backendAuthDoc{Username: b.Auth.Username, Password: b.Auth.Password}
	}
	if b.HTTPDownload != nil {
		doc.HTTPDownload = &httpDownloadDoc{
			Enabled: b.HTTPDownload.Enabled,
			Host:    b.HTTPDownload.Host,
			Port:    b.HTTPDownload.Port,
			Path:    b.HTTPDownload.Path,
			UseSSL:  b.HTTPDownload.UseSSL,
		}
		if b.HTTPDownload.Auth != nil {
			doc.HTTPDownload.Auth = &backendAuthDoc{
				Username: b.HTTPDownload.Auth.Username,
				Password: b.HTTPDownload.Auth.Password,
			}
		}
	}
	if b.AutoDownload != nil {
		doc.AutoDownload = &autoDownloadDoc{
			Enabled:           b.AutoDownload.Enabled,
			LocalPath:         b.AutoDownload.LocalPath,
			DeleteRemoteAfter: b.AutoDownload.DeleteRemoteAfter,
		}
	}
	if b.SSH != nil {
		doc.SSH = &sshDoc{Host: b.SSH.Host, Port: b.SSH.Port, User: b.SSH.User, KeyPath: b.SSH.KeyPath}
	}
	return doc
}

func fromBackendDoc(doc backendDoc) domain.Backend {
	b := domain.Backend{
		ID:          doc.ID,
		OwnerUserID: doc.OwnerID,
		Name:        doc.Name,
		Kind:        domain.BackendKind(doc.Kind),
		Host:        doc.Host,
		Port:        doc.Port,
		RPCPath:     doc.RPCPath,
		UseSSL:      doc.UseSSL,
		Enabled:     doc.Enabled,
		IsDefault:   doc.IsDefault,
		DownloadDir: doc.DownloadDir,
		MountPath:   doc.MountPath,
		Version:     doc.Version,
		CreatedAt:   timeFromUnix(doc.CreatedAt),
	}
	if doc.Auth != nil {
		b.Auth = &domain.BackendAuth{Username: doc.Auth.Username, Password: doc.Auth.Password}
	}
	if doc.HTTPDownload != nil {
		b.HTTPDownload = &domain.HTTPDownload{
			Enabled: doc.HTTPDownload.Enabled,
			Host:    doc.HTTPDownload.Host,
			Port:    doc.HTTPDownload.Port,
			Path:    doc.HTTPDownload.Path,
			UseSSL:  doc.HTTPDownload.UseSSL,
		}
		if doc.HTTPDownload.Auth != nil {
			b.HTTPDownload.Auth = &domain.BackendAuth{
				Username: doc.HTTPDownload.Auth.Username,
				Password: doc.HTTPDownload.Auth.Password,
			}
		}
	}
	if doc.AutoDownload != nil {
		b.AutoDownload = &domain.AutoDownload{
			Enabled:           doc.AutoDownload.Enabled,
			LocalPath:         doc.AutoDownload.LocalPath,
			DeleteRemoteAfter: doc.AutoDownload.DeleteRemoteAfter,
		}
	}
	if doc.SSH != nil {
		b.SSH = &domain.SSHConfig{Host: doc.SSH.Host, Port: doc.SSH.Port, User: doc.SSH.User, KeyPath: doc.SSH.KeyPath}
	}
	return b
}

func (s *Store) CreateBackend(ctx context.Context, b domain.Backend) error {
	_, err := s.backends.InsertOne(ctx, toBackendDoc(b))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *Store) GetBackend(ctx context.Context, id string) (domain.Backend, error) {
	var doc backendDoc
	if err := s.backends.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Backend{}, domain.ErrNotFound
		}
		return domain.Backend{}, err
	}
	return fromBackendDoc(doc), nil
}

func (s *Store) UpdateBackend(ctx context.Context, b domain.Backend) error {
	res, err := s.backends.ReplaceOne(ctx, bson.M{"_id": b.ID}, toBackendDoc(b))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBackend(ctx context.Context, id string) error {
	res, err := s.backends.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListBackends(ctx context.Context, ownerUserID string, enabledOnly bool) ([]domain.Backend, error) {
	query := bson.M{"ownerId": ownerUserID}
	if enabledOnly {
		query["enabled"] = true
	}
	return s.findBackends(ctx, query)
}

func (s *Store) ListAllEnabledBackends(ctx context.Context) ([]domain.Backend, error) {
	return s.findBackends(ctx, bson.M{"enabled": true})
}

func (s *Store) ClearDefaultBackend(ctx context.Context, ownerUserID string) error {
	_, err := s.backends.UpdateMany(ctx,
		bson.M{"ownerId": ownerUserID, "isDefault": true},
		bson.M{"$set": bson.M{"isDefault": false}},
	)
	return err
}

func (s *Store) findBackends(ctx context.Context, query bson.M) ([]domain.Backend, error) {
	cursor, err := s.backends.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []backendDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	backends := make([]domain.Backend, 0, len(docs))
	for _, doc := range docs {
		backends = append(backends, fromBackendDoc(doc))
	}
	return backends, nil
}
