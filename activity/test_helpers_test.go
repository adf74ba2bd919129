package activity

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/waveline/activitystream/provider"
)

type sequentialIDProvider struct {
	prefix string
	next   int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

type staticIdentityLookup struct {
	byID map[string]provider.Identity
}

func (l *staticIdentityLookup) Resolve(_ context.Context, _ provider.IdentityKind, handle string) (provider.Identity, bool, error) {
	for _, identity := range l.byID {
		if identity.Handle == handle {
			return identity, true, nil
		}
	}
	return provider.Identity{}, false, nil
}

func (l *staticIdentityLookup) ByID(_ context.Context, id string) (provider.Identity, bool, error) {
	identity, found := l.byID[id]
	return identity, found, nil
}

func mustStore(testContext *testing.T, prefix string) *Store {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&Activity{}, &Comment{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Database:   database,
		IDProvider: &sequentialIDProvider{prefix: prefix},
		Identities: &staticIdentityLookup{byID: map[string]provider.Identity{
			"id-alice": {ID: "id-alice", Handle: "alice", Kind: provider.KindIndividual},
		}},
		Clock: func() time.Time {
			return time.UnixMilli(1700000000000).UTC()
		},
	})
	if err != nil {
		testContext.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustCreateActivity(testContext *testing.T, store *Store, record *Activity) *Activity {
	testContext.Helper()
	if err := store.CreateActivity(context.Background(), record); err != nil {
		testContext.Fatalf("create activity failed: %v", err)
	}
	return record
}

func mustCreateComment(testContext *testing.T, store *Store, record *Comment) *Comment {
	testContext.Helper()
	if err := store.CreateComment(context.Background(), record); err != nil {
		testContext.Fatalf("create comment failed: %v", err)
	}
	return record
}

func validActivity(suffix string, postedAtMillis int64) *Activity {
	return &Activity{
		PosterID:       "id-alice",
		StreamID:       "id-alice",
		OwnerHandle:    "alice",
		Title:          "hello " + suffix,
		PostedAtMillis: postedAtMillis,
		UpdatedAtMilli: postedAtMillis,
	}
}
