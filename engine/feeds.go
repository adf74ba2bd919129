package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/waveline/activitystream/activity"
	"github.com/waveline/activitystream/provider"
	"github.com/waveline/activitystream/stream"
)

// GetActivity hydrates one activity through the canonical store, running
// the post-read processors.
func (e *Engine) GetActivity(ctx context.Context, activityID string) (*activity.Activity, error) {
	return e.store.GetActivity(ctx, activityID)
}

// GetComment hydrates one comment through the canonical store.
func (e *Engine) GetComment(ctx context.Context, commentID string) (*activity.Comment, error) {
	return e.store.GetComment(ctx, commentID)
}

// userActivitiesFilter matches the owner's own timeline: every pointer the
// owner holds a role on, plus the role-less surviving-poster pointer that a
// space post or role churn can leave behind.
func (e *Engine) userActivitiesFilter(owner provider.Identity) stream.Filter {
	return stream.Filter{Any: []stream.Clause{
		{ViewerIn: []string{owner.ID}, RoleState: stream.RoleStateAnyOf, RolesAnyOf: stream.AllRoles},
		{PosterIn: []string{owner.ID}, RoleState: stream.RoleStateNone},
	}}
}

// homeFeedFilter matches the aggregated home feed: the owner's own stream,
// the streams of spaces the owner belongs to, and connection posts made in
// the connections' own streams.
func (e *Engine) homeFeedFilter(ctx context.Context, owner provider.Identity) (stream.Filter, error) {
	connIDs, connHandles, err := e.connectionSets(ctx, owner)
	if err != nil {
		return stream.Filter{}, err
	}
	spaceHandles, err := e.memberSpaceHandles(ctx, owner)
	if err != nil {
		return stream.Filter{}, err
	}
	return stream.Filter{Any: []stream.Clause{
		{OwnerIn: []string{owner.Handle}},
		{OwnerIn: spaceHandles},
		{PosterIn: connIDs, OwnerIn: connHandles},
	}}, nil
}

// connectionsFilter matches only activities posted by confirmed connections
// in their own streams. No connections means an empty feed.
func (e *Engine) connectionsFilter(ctx context.Context, owner provider.Identity) (stream.Filter, error) {
	connIDs, connHandles, err := e.connectionSets(ctx, owner)
	if err != nil {
		return stream.Filter{}, err
	}
	return stream.Filter{Any: []stream.Clause{
		{PosterIn: connIDs, OwnerIn: connHandles},
	}}, nil
}

// ownerViewerFilter matches the owner's stream as seen by a viewer; a
// confirmed connection between the two widens the filter to the viewer's
// pointers in the same streams.
func (e *Engine) ownerViewerFilter(ctx context.Context, owner, viewer provider.Identity) (stream.Filter, error) {
	viewerIDs := []string{owner.ID}
	ownerHandles := []string{owner.Handle}

	if viewer.ID != "" && viewer.ID != owner.ID {
		status, err := e.relationships.RelationshipBetween(ctx, owner, viewer)
		if err != nil {
			return stream.Filter{}, newServiceError(opListFeed, "relationship_lookup_failed", err)
		}
		if status == provider.RelationshipConfirmed {
			viewerIDs = append(viewerIDs, viewer.ID)
			ownerHandles = append(ownerHandles, viewer.Handle)
		}
	}

	return stream.Filter{Any: []stream.Clause{
		{ViewerIn: viewerIDs, OwnerIn: ownerHandles, RoleState: stream.RoleStateAnyOf, RolesAnyOf: stream.AllRoles},
	}}, nil
}

// spaceFilter matches every visible pointer in one space's stream.
func (e *Engine) spaceFilter(space provider.Identity) stream.Filter {
	return stream.Filter{Any: []stream.Clause{
		{OwnerIn: []string{space.Handle}},
	}}
}

// memberSpacesFilter matches the streams of every space the owner belongs to.
func (e *Engine) memberSpacesFilter(ctx context.Context, owner provider.Identity) (stream.Filter, error) {
	spaceHandles, err := e.memberSpaceHandles(ctx, owner)
	if err != nil {
		return stream.Filter{}, err
	}
	return stream.Filter{Any: []stream.Clause{
		{OwnerIn: spaceHandles},
	}}, nil
}

func (e *Engine) connectionSets(ctx context.Context, owner provider.Identity) ([]string, []string, error) {
	connections, err := e.relationships.ConnectionsOf(ctx, owner.ID)
	if err != nil {
		return nil, nil, newServiceError(opListFeed, "connection_lookup_failed", err)
	}
	ids := make([]string, 0, len(connections))
	handles := make([]string, 0, len(connections))
	for _, connection := range connections {
		ids = append(ids, connection.ID)
		handles = append(handles, connection.Handle)
	}
	return ids, handles, nil
}

func (e *Engine) memberSpaceHandles(ctx context.Context, owner provider.Identity) ([]string, error) {
	spaces, err := e.spaces.MemberSpacesOf(ctx, owner.Handle)
	if err != nil {
		return nil, newServiceError(opListFeed, "space_lookup_failed", err)
	}
	handles := make([]string, 0, len(spaces))
	for _, space := range spaces {
		handles = append(handles, space.Handle)
	}
	return handles, nil
}

// assemble executes a filter against the index and hydrates the surviving
// activity ids through the canonical store. A pointer whose activity has
// since been deleted is skipped; the read path tolerates that drift.
func (e *Engine) assemble(ctx context.Context, filter stream.Filter, offset, limit int) ([]*activity.Activity, error) {
	activityIDs, err := e.index.ListActivityIDs(ctx, filter, offset, limit)
	if err != nil {
		return nil, err
	}

	result := make([]*activity.Activity, 0, len(activityIDs))
	for _, activityID := range activityIDs {
		record, err := e.store.GetActivity(ctx, activityID)
		if errors.Is(err, activity.ErrActivityNotFound) {
			e.logger.Debug("stale stream pointer skipped", zap.String("activity_id", activityID))
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, nil
}

// UserActivities lists the owner's own timeline, newest first.
func (e *Engine) UserActivities(ctx context.Context, owner provider.Identity, offset, limit int) ([]*activity.Activity, error) {
	return e.assemble(ctx, e.userActivitiesFilter(owner), offset, limit)
}

// NewerUserActivities lists timeline entries strictly newer than sinceMillis.
func (e *Engine) NewerUserActivities(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	return e.assemble(ctx, e.userActivitiesFilter(owner).Newer(sinceMillis), 0, limit)
}

// OlderUserActivities lists timeline entries strictly older than sinceMillis.
func (e *Engine) OlderUserActivities(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	return e.assemble(ctx, e.userActivitiesFilter(owner).Older(sinceMillis), 0, limit)
}

// CountUserActivities counts the distinct activities on the owner's timeline.
func (e *Engine) CountUserActivities(ctx context.Context, owner provider.Identity) (int, error) {
	return e.index.CountDistinct(ctx, e.userActivitiesFilter(owner))
}

// CountNewerUserActivities counts timeline entries newer than sinceMillis.
func (e *Engine) CountNewerUserActivities(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	return e.index.CountDistinct(ctx, e.userActivitiesFilter(owner).Newer(sinceMillis))
}

// CountOlderUserActivities counts timeline entries older than sinceMillis.
func (e *Engine) CountOlderUserActivities(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	return e.index.CountDistinct(ctx, e.userActivitiesFilter(owner).Older(sinceMillis))
}

// HomeFeed lists the aggregated home feed, newest first.
func (e *Engine) HomeFeed(ctx context.Context, owner provider.Identity, offset, limit int) ([]*activity.Activity, error) {
	filter, err := e.homeFeedFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter, offset, limit)
}

// NewerHomeFeed lists home-feed entries strictly newer than sinceMillis.
func (e *Engine) NewerHomeFeed(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.homeFeedFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Newer(sinceMillis), 0, limit)
}

// OlderHomeFeed lists home-feed entries strictly older than sinceMillis.
func (e *Engine) OlderHomeFeed(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.homeFeedFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Older(sinceMillis), 0, limit)
}

// CountHomeFeed counts the distinct activities on the home feed.
func (e *Engine) CountHomeFeed(ctx context.Context, owner provider.Identity) (int, error) {
	filter, err := e.homeFeedFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter)
}

// CountNewerHomeFeed counts home-feed entries newer than sinceMillis.
func (e *Engine) CountNewerHomeFeed(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.homeFeedFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Newer(sinceMillis))
}

// CountOlderHomeFeed counts home-feed entries older than sinceMillis.
func (e *Engine) CountOlderHomeFeed(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.homeFeedFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Older(sinceMillis))
}

// ConnectionActivities lists the activities of the owner's confirmed
// connections, newest first.
func (e *Engine) ConnectionActivities(ctx context.Context, owner provider.Identity, offset, limit int) ([]*activity.Activity, error) {
	filter, err := e.connectionsFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter, offset, limit)
}

// NewerConnectionActivities lists connection activities newer than sinceMillis.
func (e *Engine) NewerConnectionActivities(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.connectionsFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Newer(sinceMillis), 0, limit)
}

// OlderConnectionActivities lists connection activities older than sinceMillis.
func (e *Engine) OlderConnectionActivities(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.connectionsFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Older(sinceMillis), 0, limit)
}

// CountConnectionActivities counts the distinct connection activities.
func (e *Engine) CountConnectionActivities(ctx context.Context, owner provider.Identity) (int, error) {
	filter, err := e.connectionsFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter)
}

// CountNewerConnectionActivities counts connection activities newer than sinceMillis.
func (e *Engine) CountNewerConnectionActivities(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.connectionsFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Newer(sinceMillis))
}

// CountOlderConnectionActivities counts connection activities older than sinceMillis.
func (e *Engine) CountOlderConnectionActivities(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.connectionsFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Older(sinceMillis))
}

// OwnerViewerActivities lists the owner's stream as seen by a viewer.
func (e *Engine) OwnerViewerActivities(ctx context.Context, owner, viewer provider.Identity, offset, limit int) ([]*activity.Activity, error) {
	filter, err := e.ownerViewerFilter(ctx, owner, viewer)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter, offset, limit)
}

// NewerOwnerViewerActivities lists owner-viewer entries newer than sinceMillis.
func (e *Engine) NewerOwnerViewerActivities(ctx context.Context, owner, viewer provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.ownerViewerFilter(ctx, owner, viewer)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Newer(sinceMillis), 0, limit)
}

// OlderOwnerViewerActivities lists owner-viewer entries older than sinceMillis.
func (e *Engine) OlderOwnerViewerActivities(ctx context.Context, owner, viewer provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.ownerViewerFilter(ctx, owner, viewer)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Older(sinceMillis), 0, limit)
}

// CountOwnerViewerActivities counts the distinct activities of the
// owner-viewer view.
func (e *Engine) CountOwnerViewerActivities(ctx context.Context, owner, viewer provider.Identity) (int, error) {
	filter, err := e.ownerViewerFilter(ctx, owner, viewer)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter)
}

// CountNewerOwnerViewerActivities counts owner-viewer entries newer than sinceMillis.
func (e *Engine) CountNewerOwnerViewerActivities(ctx context.Context, owner, viewer provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.ownerViewerFilter(ctx, owner, viewer)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Newer(sinceMillis))
}

// CountOlderOwnerViewerActivities counts owner-viewer entries older than sinceMillis.
func (e *Engine) CountOlderOwnerViewerActivities(ctx context.Context, owner, viewer provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.ownerViewerFilter(ctx, owner, viewer)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Older(sinceMillis))
}

// SpaceActivities lists one space's stream, newest first.
func (e *Engine) SpaceActivities(ctx context.Context, space provider.Identity, offset, limit int) ([]*activity.Activity, error) {
	return e.assemble(ctx, e.spaceFilter(space), offset, limit)
}

// NewerSpaceActivities lists space-stream entries newer than sinceMillis.
func (e *Engine) NewerSpaceActivities(ctx context.Context, space provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	return e.assemble(ctx, e.spaceFilter(space).Newer(sinceMillis), 0, limit)
}

// OlderSpaceActivities lists space-stream entries older than sinceMillis.
func (e *Engine) OlderSpaceActivities(ctx context.Context, space provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	return e.assemble(ctx, e.spaceFilter(space).Older(sinceMillis), 0, limit)
}

// CountSpaceActivities counts the distinct activities in one space's stream.
func (e *Engine) CountSpaceActivities(ctx context.Context, space provider.Identity) (int, error) {
	return e.index.CountDistinct(ctx, e.spaceFilter(space))
}

// CountNewerSpaceActivities counts space-stream entries newer than sinceMillis.
func (e *Engine) CountNewerSpaceActivities(ctx context.Context, space provider.Identity, sinceMillis int64) (int, error) {
	return e.index.CountDistinct(ctx, e.spaceFilter(space).Newer(sinceMillis))
}

// CountOlderSpaceActivities counts space-stream entries older than sinceMillis.
func (e *Engine) CountOlderSpaceActivities(ctx context.Context, space provider.Identity, sinceMillis int64) (int, error) {
	return e.index.CountDistinct(ctx, e.spaceFilter(space).Older(sinceMillis))
}

// MemberSpaceActivities lists the streams of every space the owner belongs
// to, newest first.
func (e *Engine) MemberSpaceActivities(ctx context.Context, owner provider.Identity, offset, limit int) ([]*activity.Activity, error) {
	filter, err := e.memberSpacesFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter, offset, limit)
}

// NewerMemberSpaceActivities lists member-space entries newer than sinceMillis.
func (e *Engine) NewerMemberSpaceActivities(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.memberSpacesFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Newer(sinceMillis), 0, limit)
}

// OlderMemberSpaceActivities lists member-space entries older than sinceMillis.
func (e *Engine) OlderMemberSpaceActivities(ctx context.Context, owner provider.Identity, sinceMillis int64, limit int) ([]*activity.Activity, error) {
	filter, err := e.memberSpacesFilter(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.assemble(ctx, filter.Older(sinceMillis), 0, limit)
}

// CountMemberSpaceActivities counts the distinct member-space activities.
func (e *Engine) CountMemberSpaceActivities(ctx context.Context, owner provider.Identity) (int, error) {
	filter, err := e.memberSpacesFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter)
}

// CountNewerMemberSpaceActivities counts member-space entries newer than sinceMillis.
func (e *Engine) CountNewerMemberSpaceActivities(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.memberSpacesFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Newer(sinceMillis))
}

// CountOlderMemberSpaceActivities counts member-space entries older than sinceMillis.
func (e *Engine) CountOlderMemberSpaceActivities(ctx context.Context, owner provider.Identity, sinceMillis int64) (int, error) {
	filter, err := e.memberSpacesFilter(ctx, owner)
	if err != nil {
		return 0, err
	}
	return e.index.CountDistinct(ctx, filter.Older(sinceMillis))
}

// Comments returns a page of an activity's comments in reply order.
func (e *Engine) Comments(ctx context.Context, activityID string, offset, limit int) ([]activity.Comment, error) {
	return e.store.Comments(ctx, activityID, offset, limit)
}

// NewerComments returns comments posted strictly after sinceMillis.
func (e *Engine) NewerComments(ctx context.Context, activityID string, sinceMillis int64, limit int) ([]activity.Comment, error) {
	return e.store.NewerComments(ctx, activityID, sinceMillis, limit)
}

// OlderComments returns comments posted strictly before sinceMillis.
func (e *Engine) OlderComments(ctx context.Context, activityID string, sinceMillis int64, limit int) ([]activity.Comment, error) {
	return e.store.OlderComments(ctx, activityID, sinceMillis, limit)
}

// CountComments counts an activity's comments.
func (e *Engine) CountComments(ctx context.Context, activityID string) (int, error) {
	return e.store.CountComments(ctx, activityID)
}

// CountNewerComments counts comments posted after sinceMillis.
func (e *Engine) CountNewerComments(ctx context.Context, activityID string, sinceMillis int64) (int, error) {
	return e.store.CountNewerComments(ctx, activityID, sinceMillis)
}

// CountOlderComments counts comments posted before sinceMillis.
func (e *Engine) CountOlderComments(ctx context.Context, activityID string, sinceMillis int64) (int, error) {
	return e.store.CountOlderComments(ctx, activityID, sinceMillis)
}
