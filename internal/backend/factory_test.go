package backend

import (
	"errors"
	"testing"

	"torrentgate/internal/backend/rtorrent"
	"torrentgate/internal/backend/transmission"
	"torrentgate/internal/domain"
)

func rtBackend(version int64) domain.Backend {
	return domain.Backend{
		ID:      "b1",
		Kind:    domain.KindRTorrent,
		Host:    "seedbox.example",
		Port:    8080,
		Version: version,
	}
}

func TestFactoryCachesPerVersion(t *testing.T) {
	f := NewFactory()

	c1, err := f.Client(rtBackend(1))
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	c2, err := f.Client(rtBackend(1))
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if c1 != c2 {
		t.Fatal("same backend version must reuse the cached client")
	}

	// An edited backend record bumps Version and forces a rebuild.
	c3, err := f.Client(rtBackend(2))
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if c3 == c1 {
		t.Fatal("version bump kept the stale client")
	}
}

func TestFactoryInvalidate(t *testing.T) {
	f := NewFactory()

	c1, _ := f.Client(rtBackend(1))
	f.Invalidate("b1")
	c2, _ := f.Client(rtBackend(1))
	if c1 == c2 {
		t.Fatal("invalidated client must be rebuilt")
	}
}

func TestFactoryBuildsByKind(t *testing.T) {
	f := NewFactory()

	rt, err := f.Client(rtBackend(1))
	if err != nil {
		t.Fatalf("rtorrent client: %v", err)
	}
	if _, ok := rt.(*rtorrent.Client); !ok {
		t.Fatalf("client type = %T", rt)
	}

	tm, err := f.Client(domain.Backend{ID: "b2", Kind: domain.KindTransmission, Host: "h", Port: 9091, Version: 1})
	if err != nil {
		t.Fatalf("transmission client: %v", err)
	}
	if _, ok := tm.(*transmission.Client); !ok {
		t.Fatalf("client type = %T", tm)
	}

	if _, err := f.Client(domain.Backend{ID: "b3", Kind: "deluge", Version: 1}); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("unknown kind err = %v", err)
	}
}
