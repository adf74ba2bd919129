package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/waveline/activitystream/activity"
	"github.com/waveline/activitystream/provider"
	"github.com/waveline/activitystream/stream"
)

type sequentialIDProvider struct {
	prefix string
	next   int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

// fakeNetwork is an in-memory social graph backing the provider interfaces.
type fakeNetwork struct {
	identities  map[string]provider.Identity
	connections map[string][]provider.Identity
	statuses    map[string]provider.RelationshipStatus
	spaces      map[string]provider.Space
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		identities:  map[string]provider.Identity{},
		connections: map[string][]provider.Identity{},
		statuses:    map[string]provider.RelationshipStatus{},
		spaces:      map[string]provider.Space{},
	}
}

func (n *fakeNetwork) addIdentity(id, handle string, kind provider.IdentityKind) provider.Identity {
	identity := provider.Identity{ID: id, Handle: handle, Kind: kind}
	n.identities[id] = identity
	return identity
}

func (n *fakeNetwork) connect(a, b provider.Identity) {
	n.connections[a.ID] = append(n.connections[a.ID], b)
	n.connections[b.ID] = append(n.connections[b.ID], a)
	n.statuses[a.ID+"|"+b.ID] = provider.RelationshipConfirmed
	n.statuses[b.ID+"|"+a.ID] = provider.RelationshipConfirmed
}

func (n *fakeNetwork) addSpace(handle string, memberIDs ...string) provider.Identity {
	n.spaces[handle] = provider.Space{Handle: handle, MemberIDs: memberIDs}
	return n.addIdentity("id-"+handle, handle, provider.KindSpace)
}

func (n *fakeNetwork) Resolve(_ context.Context, kind provider.IdentityKind, handle string) (provider.Identity, bool, error) {
	for _, identity := range n.identities {
		if identity.Handle == handle && identity.Kind == kind {
			return identity, true, nil
		}
	}
	return provider.Identity{}, false, nil
}

func (n *fakeNetwork) ByID(_ context.Context, id string) (provider.Identity, bool, error) {
	identity, found := n.identities[id]
	return identity, found, nil
}

func (n *fakeNetwork) ConnectionsOf(_ context.Context, identityID string) ([]provider.Identity, error) {
	return n.connections[identityID], nil
}

func (n *fakeNetwork) RelationshipBetween(_ context.Context, a, b provider.Identity) (provider.RelationshipStatus, error) {
	if status, found := n.statuses[a.ID+"|"+b.ID]; found {
		return status, nil
	}
	return provider.RelationshipNone, nil
}

func (n *fakeNetwork) SpaceByHandle(_ context.Context, handle string) (provider.Space, bool, error) {
	space, found := n.spaces[handle]
	return space, found, nil
}

func (n *fakeNetwork) MemberSpacesOf(_ context.Context, handle string) ([]provider.Space, error) {
	var memberOf []provider.Space
	for _, space := range n.spaces {
		for _, memberID := range space.MemberIDs {
			if identity, found := n.identities[memberID]; found && identity.Handle == handle {
				memberOf = append(memberOf, space)
				break
			}
		}
	}
	return memberOf, nil
}

func mustEngine(testContext *testing.T, prefix string, network *fakeNetwork) *Engine {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&activity.Activity{}, &activity.Comment{}, &stream.StreamItem{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	eng, err := New(Config{
		Database:      database,
		Identities:    network,
		Relationships: network,
		Spaces:        network,
		IDProvider:    &sequentialIDProvider{prefix: prefix},
		Clock: func() time.Time {
			return time.UnixMilli(1700000000000).UTC()
		},
	})
	if err != nil {
		testContext.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

func mustPost(testContext *testing.T, eng *Engine, owner provider.Identity, draft ActivityDraft) *activity.Activity {
	testContext.Helper()
	record, err := eng.PostActivity(context.Background(), owner, draft)
	if err != nil {
		testContext.Fatalf("post activity failed: %v", err)
	}
	return record
}

func mustPointer(testContext *testing.T, eng *Engine, activityID, viewerID string) *stream.StreamItem {
	testContext.Helper()
	item, found, err := eng.Index().Item(context.Background(), activityID, viewerID)
	if err != nil {
		testContext.Fatalf("pointer lookup failed: %v", err)
	}
	if !found {
		testContext.Fatalf("expected pointer for %s/%s", activityID, viewerID)
	}
	return item
}

func activityIDsOf(records []*activity.Activity) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids
}
