package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"torrentgate/internal/domain"
)

func TestAddURIMagnet(t *testing.T) {
	g, store, factory := newTestGateway(t)
	ctx := context.Background()
	user := domain.User{ID: "u1"}

	_ = store.CreateBackend(ctx, testBackend("b1", "u1", "alpha"))
	factory.clients["b1"] = &fakeClient{}

	uri := "magnet:?xt=urn:btih:" + strings.ToLower(hashA) + "&dn=example"
	hash, err := g.AddURI(ctx, user, "b1", uri, true, domain.PriorityNormal)
	if err != nil {
		t.Fatalf("AddURI: %v", err)
	}
	if hash != hashA {
		t.Fatalf("hash = %q, want canonical %q", hash, hashA)
	}

	record, err := store.GetTorrent(ctx, "u1", hashA, "b1")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if record.Name != "example" {
		t.Fatalf("record name = %q", record.Name)
	}

	actions, _ := store.ListActions(ctx, hashA)
	if len(actions) != 1 || actions[0].Kind != domain.ActionAdd || actions[0].Detail != "magnet" {
		t.Fatalf("actions = %+v", actions)
	}
}

func TestAddURIValidation(t *testing.T) {
	g, store, factory := newTestGateway(t)
	ctx := context.Background()
	user := domain.User{ID: "u1"}

	_ = store.CreateBackend(ctx, testBackend("b1", "u1", "alpha"))
	factory.clients["b1"] = &fakeClient{}

	if _, err := g.AddURI(ctx, user, "", "magnet:?xt=urn:btih:"+hashA, true, 1); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("missing backend err = %v", err)
	}
	if _, err := g.AddURI(ctx, user, "b1", "ftp://example/file.torrent", true, 1); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("bad scheme err = %v", err)
	}
	if _, err := g.AddURI(ctx, user, "b1", "magnet:?xt=garbage", true, 1); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("bad magnet err = %v", err)
	}
}

func TestAddTargetRejectsDisabledBackend(t *testing.T) {
	g, store, factory := newTestGateway(t)
	ctx := context.Background()
	user := domain.User{ID: "u1"}

	b := testBackend("b1", "u1", "alpha")
	b.Enabled = false
	_ = store.CreateBackend(ctx, b)
	factory.clients["b1"] = &fakeClient{}

	_, err := g.AddURI(ctx, user, "b1", "magnet:?xt=urn:btih:"+hashA, true, 1)
	if !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("disabled backend err = %v", err)
	}
}
