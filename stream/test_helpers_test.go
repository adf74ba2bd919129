package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	prefix string
	next   int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

func mustIndex(testContext *testing.T, prefix string) *Index {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&StreamItem{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	index, err := NewIndex(IndexConfig{
		Database:   database,
		IDProvider: &sequentialIDProvider{prefix: prefix},
		Clock: func() time.Time {
			return time.UnixMilli(1700000000000).UTC()
		},
	})
	if err != nil {
		testContext.Fatalf("failed to create index: %v", err)
	}
	return index
}

func mustAddRole(testContext *testing.T, index *Index, grant RoleGrant) {
	testContext.Helper()
	if err := index.AddRole(context.Background(), grant); err != nil {
		testContext.Fatalf("add role failed: %v", err)
	}
}

func mustItem(testContext *testing.T, index *Index, activityID, viewerID string) *StreamItem {
	testContext.Helper()
	item, found, err := index.Item(context.Background(), activityID, viewerID)
	if err != nil {
		testContext.Fatalf("item lookup failed: %v", err)
	}
	if !found {
		testContext.Fatalf("expected pointer for %s/%s", activityID, viewerID)
	}
	return item
}

func grantFor(activityID, viewerID string, role ViewerRole, timeMillis int64) RoleGrant {
	return RoleGrant{
		ActivityID:  activityID,
		ViewerID:    viewerID,
		Role:        role,
		OwnerHandle: "alice",
		PosterID:    "id-alice",
		TimeMillis:  timeMillis,
	}
}
