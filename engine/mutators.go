package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/waveline/activitystream/activity"
	"github.com/waveline/activitystream/provider"
	"github.com/waveline/activitystream/stream"
)

// ActivityDraft carries the caller-supplied fields of a new activity.
type ActivityDraft struct {
	Title          string
	TitleID        string
	Body           string
	BodyID         string
	Type           string
	AppID          string
	ExternalID     string
	PosterID       string
	PostedAtMillis int64
	Hidden         bool
	Locked         bool
	LikerIDs       []string
	TemplateParams map[string]string
}

// CommentDraft carries the caller-supplied fields of a new comment.
type CommentDraft struct {
	Title          string
	TitleID        string
	Body           string
	BodyID         string
	Type           string
	PosterID       string
	PostedAtMillis int64
	Hidden         bool
	Locked         bool
	TemplateParams map[string]string
}

// PostActivity creates an activity in the owner's stream, extracts mentions
// from the title and fans the pointer records out. The canonical insert is
// the primary write; pointer fan-out is best effort and a failure there is
// logged without failing the post, since replaying the fan-out converges.
func (e *Engine) PostActivity(ctx context.Context, owner provider.Identity, draft ActivityDraft) (*activity.Activity, error) {
	posted := draft.PostedAtMillis
	if posted <= 0 {
		posted = e.nowMillis()
	}
	posterID := draft.PosterID
	if posterID == "" {
		posterID = owner.ID
	}

	record := &activity.Activity{
		PosterID:       posterID,
		StreamID:       owner.ID,
		OwnerHandle:    owner.Handle,
		Title:          draft.Title,
		TitleID:        draft.TitleID,
		Body:           draft.Body,
		BodyID:         draft.BodyID,
		Type:           draft.Type,
		AppID:          draft.AppID,
		ExternalID:     draft.ExternalID,
		PostedAtMillis: posted,
		UpdatedAtMilli: posted,
		Hidden:         draft.Hidden,
		Locked:         draft.Locked,
	}
	record.SetLikerIDs(draft.LikerIDs)
	record.SetTemplateParams(draft.TemplateParams)

	mentionIDs := e.mentions.ExtractMentions(ctx, draft.Title)
	record.SetMentionedIDs(mentionIDs)

	if err := e.store.CreateActivity(ctx, record); err != nil {
		return nil, err
	}

	e.fanOutNewActivity(ctx, owner, record, mentionIDs)
	return record, nil
}

// fanOutNewActivity writes the pointer records for a freshly created
// activity. An individual owner yields a POSTER pointer plus one MENTIONER
// pointer per resolved mention; a space owner yields one pointer per member,
// where only the actual poster carries the POSTER role. Space membership is
// read once here; later membership changes never rewrite existing pointers.
func (e *Engine) fanOutNewActivity(ctx context.Context, owner provider.Identity, record *activity.Activity, mentionIDs []string) {
	base := stream.RoleGrant{
		ActivityID:  record.ID,
		OwnerHandle: record.OwnerHandle,
		PosterID:    record.PosterID,
		Hidden:      record.Hidden,
		Locked:      record.Locked,
		TimeMillis:  record.PostedAtMillis,
	}

	if !owner.IsSpace() {
		grant := base
		grant.ViewerID = record.PosterID
		grant.Role = stream.RolePoster
		if err := e.index.AddRole(ctx, grant); err != nil {
			e.logWarn(opPostActivity, "poster_pointer_failed", err, zap.String("activity_id", record.ID))
		}
		for _, mentionID := range mentionIDs {
			grant := base
			grant.ViewerID = mentionID
			grant.Role = stream.RoleMentioner
			if err := e.index.AddRole(ctx, grant); err != nil {
				e.logWarn(opPostActivity, "mention_pointer_failed", err,
					zap.String("activity_id", record.ID),
					zap.String("viewer_id", mentionID))
			}
		}
		return
	}

	space, found, err := e.spaces.SpaceByHandle(ctx, owner.Handle)
	if err != nil {
		e.logWarn(opPostActivity, "space_lookup_failed", err, zap.String("owner_handle", owner.Handle))
		return
	}
	if !found {
		return
	}
	for _, memberID := range space.MemberIDs {
		grant := base
		grant.ViewerID = memberID
		if memberID == record.PosterID {
			grant.Role = stream.RolePoster
			err = e.index.AddRole(ctx, grant)
		} else {
			err = e.index.EnsurePointer(ctx, grant)
		}
		if err != nil {
			e.logWarn(opPostActivity, "member_pointer_failed", err,
				zap.String("activity_id", record.ID),
				zap.String("viewer_id", memberID))
		}
	}
}

// UpdateActivity merge-patches the canonical record, propagates the new
// update time and hidden flag to every pointer, and reconciles LIKER
// pointers against any change to the liker list. Pointer propagation is
// best effort.
func (e *Engine) UpdateActivity(ctx context.Context, activityID string, patch activity.ActivityPatch) (*activity.Activity, error) {
	var previousLikers []string
	if patch.LikerIDs != nil {
		existing, err := e.store.GetActivity(ctx, activityID)
		if err != nil {
			return nil, err
		}
		previousLikers = existing.LikerIDs()
	}

	updated, err := e.store.UpdateActivity(ctx, activityID, patch)
	if err != nil {
		return nil, err
	}

	if err := e.index.BumpActivityMetadata(ctx, activityID, updated.UpdatedAtMilli, updated.Hidden); err != nil {
		e.logWarn(opUpdateActivity, "metadata_propagation_failed", err, zap.String("activity_id", activityID))
	}

	if patch.LikerIDs != nil {
		e.reconcileLikers(ctx, updated, previousLikers, updated.LikerIDs())
	}
	return updated, nil
}

func (e *Engine) reconcileLikers(ctx context.Context, record *activity.Activity, previous, current []string) {
	for _, likerID := range diffIDs(current, previous) {
		grant := stream.RoleGrant{
			ActivityID:  record.ID,
			ViewerID:    likerID,
			Role:        stream.RoleLiker,
			OwnerHandle: record.OwnerHandle,
			PosterID:    record.PosterID,
			Hidden:      record.Hidden,
			Locked:      record.Locked,
			TimeMillis:  record.UpdatedAtMilli,
		}
		if err := e.index.AddRole(ctx, grant); err != nil {
			e.logWarn(opUpdateActivity, "like_pointer_failed", err,
				zap.String("activity_id", record.ID),
				zap.String("viewer_id", likerID))
		}
	}
	for _, likerID := range diffIDs(previous, current) {
		if err := e.index.RemoveRole(ctx, record.ID, likerID, stream.RoleLiker); err != nil {
			e.logWarn(opUpdateActivity, "unlike_pointer_failed", err,
				zap.String("activity_id", record.ID),
				zap.String("viewer_id", likerID))
		}
	}
}

// DeleteActivity removes the canonical record, its comments and every
// pointer referencing it.
func (e *Engine) DeleteActivity(ctx context.Context, activityID string) error {
	if err := e.store.DeleteActivity(ctx, activityID); err != nil {
		return err
	}
	if err := e.index.DeleteForActivity(ctx, activityID); err != nil {
		return newServiceError(opDeleteActivity, "pointer_cascade_failed", err)
	}
	return nil
}

// SaveComment appends a comment to an activity: the comment insert and the
// parent's comment-id/mention bookkeeping are the primary writes; the
// COMMENTER and MENTIONER pointer upserts are best effort.
func (e *Engine) SaveComment(ctx context.Context, activityID string, draft CommentDraft) (*activity.Comment, error) {
	parent, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	posted := draft.PostedAtMillis
	if posted <= 0 {
		posted = e.nowMillis()
	}

	comment := &activity.Comment{
		ActivityID:     activityID,
		PosterID:       draft.PosterID,
		Title:          draft.Title,
		TitleID:        draft.TitleID,
		Body:           draft.Body,
		BodyID:         draft.BodyID,
		Type:           draft.Type,
		PostedAtMillis: posted,
		UpdatedAtMilli: posted,
		Hidden:         draft.Hidden,
		Locked:         draft.Locked,
	}
	comment.SetTemplateParams(draft.TemplateParams)

	if err := e.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}

	mentionIDs := e.mentions.ExtractMentions(ctx, draft.Title)

	commentIDs := append(parent.CommentIDs(), comment.ID)
	mentionedIDs := append(parent.MentionedIDs(), mentionIDs...)
	updated, err := e.store.UpdateActivity(ctx, activityID, activity.ActivityPatch{
		CommentIDs:   &commentIDs,
		MentionedIDs: &mentionedIDs,
	})
	if err != nil {
		return nil, newServiceError(opSaveComment, "parent_update_failed", err)
	}

	base := stream.RoleGrant{
		ActivityID:  activityID,
		OwnerHandle: updated.OwnerHandle,
		PosterID:    updated.PosterID,
		Hidden:      updated.Hidden,
		Locked:      updated.Locked,
		TimeMillis:  comment.UpdatedAtMilli,
	}

	grant := base
	grant.ViewerID = draft.PosterID
	grant.Role = stream.RoleCommenter
	if err := e.index.AddRole(ctx, grant); err != nil {
		e.logWarn(opSaveComment, "commenter_pointer_failed", err,
			zap.String("activity_id", activityID),
			zap.String("viewer_id", draft.PosterID))
	}

	for _, mentionID := range mentionIDs {
		grant := base
		grant.ViewerID = mentionID
		grant.Role = stream.RoleMentioner
		if err := e.index.AddRole(ctx, grant); err != nil {
			e.logWarn(opSaveComment, "mention_pointer_failed", err,
				zap.String("activity_id", activityID),
				zap.String("viewer_id", mentionID))
		}
	}

	return comment, nil
}

// UpdateComment merge-patches a comment's content. Mention and pointer
// bookkeeping is keyed to comment creation and deletion; an edit changes
// only the canonical record.
func (e *Engine) UpdateComment(ctx context.Context, commentID string, patch activity.CommentPatch) (*activity.Comment, error) {
	return e.store.UpdateComment(ctx, commentID, patch)
}

// DeleteComment removes a comment, unwinds its entry in the parent's
// comment-id and mention lists, and decrements the MENTIONER pointers its
// text contributed. Pointer unwinding is best effort.
func (e *Engine) DeleteComment(ctx context.Context, activityID, commentID string) error {
	removed, err := e.store.DeleteComment(ctx, commentID)
	if err != nil {
		return err
	}

	mentionIDs := e.mentions.ExtractMentions(ctx, removed.Title)

	parent, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	commentIDs := removeFirst(parent.CommentIDs(), commentID)
	mentionedIDs := parent.MentionedIDs()
	for _, mentionID := range mentionIDs {
		mentionedIDs = removeFirst(mentionedIDs, mentionID)
	}
	if _, err := e.store.UpdateActivity(ctx, activityID, activity.ActivityPatch{
		CommentIDs:   &commentIDs,
		MentionedIDs: &mentionedIDs,
	}); err != nil {
		return newServiceError(opDeleteComment, "parent_update_failed", err)
	}

	for _, mentionID := range mentionIDs {
		if err := e.index.RemoveRole(ctx, activityID, mentionID, stream.RoleMentioner); err != nil {
			e.logWarn(opDeleteComment, "mention_pointer_failed", err,
				zap.String("activity_id", activityID),
				zap.String("viewer_id", mentionID))
		}
	}
	return nil
}

// Like adds the viewer to the activity's liker list and upserts the LIKER
// pointer. Liking an already-liked activity only bumps the pointer time.
func (e *Engine) Like(ctx context.Context, activityID, viewerID string) error {
	existing, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	likers := existing.LikerIDs()
	if !containsID(likers, viewerID) {
		likers = append(likers, viewerID)
	}
	if _, err := e.UpdateActivity(ctx, activityID, activity.ActivityPatch{LikerIDs: &likers}); err != nil {
		return newServiceError(opLike, "update_failed", err)
	}
	return nil
}

// Unlike removes the viewer from the liker list and unwinds the LIKER
// pointer; removing a like that was never recorded is a no-op.
func (e *Engine) Unlike(ctx context.Context, activityID, viewerID string) error {
	existing, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	likers := removeFirst(existing.LikerIDs(), viewerID)
	if _, err := e.UpdateActivity(ctx, activityID, activity.ActivityPatch{LikerIDs: &likers}); err != nil {
		return newServiceError(opUnlike, "update_failed", err)
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func removeFirst(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(append([]string{}, ids[:i]...), ids[i+1:]...)
		}
	}
	return ids
}

func diffIDs(left, right []string) []string {
	var result []string
	for _, id := range left {
		if !containsID(right, id) {
			result = append(result, id)
		}
	}
	return result
}
