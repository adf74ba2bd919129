package activity

import (
	"context"
	"errors"
	"testing"
)

func TestCreateActivityAssignsIDAndDefaults(t *testing.T) {
	store := mustStore(t, "act-create")
	record := mustCreateActivity(t, store, validActivity("create", 1700000000000))

	if record.ID != "act-create-1" {
		t.Fatalf("expected generated id, got %q", record.ID)
	}
	if record.LikersJSON != "[]" || record.MentionsJSON != "[]" || record.CommentIDsJSON != "[]" {
		t.Fatalf("expected list columns to default to empty arrays")
	}
	if record.ParamsJSON != "{}" {
		t.Fatalf("expected params column to default to empty object, got %q", record.ParamsJSON)
	}
}

func TestGetActivityAttachesStreamDescriptor(t *testing.T) {
	store := mustStore(t, "act-get")
	created := mustCreateActivity(t, store, validActivity("get", 1700000000000))

	loaded, err := store.GetActivity(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get activity failed: %v", err)
	}
	if loaded.Stream == nil {
		t.Fatalf("expected stream descriptor to be attached")
	}
	if loaded.Stream.Handle != "alice" || loaded.Stream.Kind != "individual" {
		t.Fatalf("unexpected stream descriptor: %#v", loaded.Stream)
	}
}

func TestGetActivityReportsNotFound(t *testing.T) {
	store := mustStore(t, "act-missing")
	_, err := store.GetActivity(context.Background(), "no-such-activity")
	if !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}
}

func TestUpdateActivityAppliesPatchAndRefreshesUpdatedTime(t *testing.T) {
	store := mustStore(t, "act-update")
	created := mustCreateActivity(t, store, validActivity("update", 1600000000000))

	title := "edited title"
	hidden := true
	updated, err := store.UpdateActivity(context.Background(), created.ID, ActivityPatch{
		Title:  &title,
		Hidden: &hidden,
	})
	if err != nil {
		t.Fatalf("update activity failed: %v", err)
	}
	if updated.Title != "edited title" {
		t.Fatalf("expected title to change, got %q", updated.Title)
	}
	if !updated.Hidden {
		t.Fatalf("expected hidden flag to change")
	}
	if updated.PostedAtMillis != 1600000000000 {
		t.Fatalf("expected posted time to be untouched, got %d", updated.PostedAtMillis)
	}
	if updated.UpdatedAtMilli != 1700000000000 {
		t.Fatalf("expected updated time from clock, got %d", updated.UpdatedAtMilli)
	}
}

func TestDeleteActivityCascadesComments(t *testing.T) {
	store := mustStore(t, "act-delete")
	created := mustCreateActivity(t, store, validActivity("delete", 1700000000000))
	comment := mustCreateComment(t, store, &Comment{
		ActivityID:     created.ID,
		PosterID:       "id-bob",
		Title:          "reply",
		PostedAtMillis: 1700000001000,
		UpdatedAtMilli: 1700000001000,
	})

	if err := store.DeleteActivity(context.Background(), created.ID); err != nil {
		t.Fatalf("delete activity failed: %v", err)
	}
	if _, err := store.GetActivity(context.Background(), created.ID); !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("expected activity to be gone, got %v", err)
	}
	if _, err := store.GetComment(context.Background(), comment.ID); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected comment cascade, got %v", err)
	}
	if err := store.DeleteActivity(context.Background(), created.ID); !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("expected repeat delete to report not found, got %v", err)
	}
}

func TestUpdateCommentAppliesPatchAndRefreshesUpdatedTime(t *testing.T) {
	store := mustStore(t, "act-editcomment")
	created := mustCreateActivity(t, store, validActivity("editcomment", 1600000000000))
	comment := mustCreateComment(t, store, &Comment{
		ActivityID:     created.ID,
		PosterID:       "id-bob",
		Title:          "before",
		PostedAtMillis: 1600000001000,
		UpdatedAtMilli: 1600000001000,
	})

	title := "after"
	updated, err := store.UpdateComment(context.Background(), comment.ID, CommentPatch{Title: &title})
	if err != nil {
		t.Fatalf("update comment failed: %v", err)
	}
	if updated.Title != "after" {
		t.Fatalf("expected title to change, got %q", updated.Title)
	}
	if updated.PostedAtMillis != 1600000001000 {
		t.Fatalf("expected posted time untouched, got %d", updated.PostedAtMillis)
	}
	if updated.UpdatedAtMilli != 1700000000000 {
		t.Fatalf("expected updated time from clock, got %d", updated.UpdatedAtMilli)
	}

	if _, err := store.UpdateComment(context.Background(), "no-such-comment", CommentPatch{Title: &title}); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}
}

func TestDeleteCommentReturnsRemovedRecord(t *testing.T) {
	store := mustStore(t, "act-rmcomment")
	created := mustCreateActivity(t, store, validActivity("rmcomment", 1700000000000))
	comment := mustCreateComment(t, store, &Comment{
		ActivityID:     created.ID,
		PosterID:       "id-bob",
		Title:          "to be removed",
		PostedAtMillis: 1700000001000,
		UpdatedAtMilli: 1700000001000,
	})

	removed, err := store.DeleteComment(context.Background(), comment.ID)
	if err != nil {
		t.Fatalf("delete comment failed: %v", err)
	}
	if removed.Title != "to be removed" {
		t.Fatalf("expected the removed record back, got %#v", removed)
	}
	if _, err := store.DeleteComment(context.Background(), comment.ID); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected repeat delete to report not found, got %v", err)
	}
}

func TestCommentPagesFollowReplyOrderWithStrictCursors(t *testing.T) {
	store := mustStore(t, "act-page")
	created := mustCreateActivity(t, store, validActivity("page", 1700000000000))
	for i, postedAt := range []int64{1700000001000, 1700000002000, 1700000003000} {
		mustCreateComment(t, store, &Comment{
			ActivityID:     created.ID,
			PosterID:       "id-bob",
			Title:          []string{"first", "second", "third"}[i],
			PostedAtMillis: postedAt,
			UpdatedAtMilli: postedAt,
		})
	}

	page, err := store.Comments(context.Background(), created.ID, 1, 1)
	if err != nil {
		t.Fatalf("comments page failed: %v", err)
	}
	if len(page) != 1 || page[0].Title != "second" {
		t.Fatalf("expected the middle comment, got %#v", page)
	}

	newer, err := store.NewerComments(context.Background(), created.ID, 1700000001000, -1)
	if err != nil {
		t.Fatalf("newer comments failed: %v", err)
	}
	if len(newer) != 2 || newer[0].Title != "second" {
		t.Fatalf("expected strictly newer comments in reply order, got %#v", newer)
	}

	older, err := store.OlderComments(context.Background(), created.ID, 1700000003000, -1)
	if err != nil {
		t.Fatalf("older comments failed: %v", err)
	}
	if len(older) != 2 || older[1].Title != "second" {
		t.Fatalf("expected strictly older comments, got %#v", older)
	}

	total, err := store.CountComments(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("count comments failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 comments, got %d", total)
	}
	newerCount, err := store.CountNewerComments(context.Background(), created.ID, 1700000002000)
	if err != nil {
		t.Fatalf("count newer failed: %v", err)
	}
	if newerCount != 1 {
		t.Fatalf("expected 1 newer comment, got %d", newerCount)
	}
	olderCount, err := store.CountOlderComments(context.Background(), created.ID, 1700000002000)
	if err != nil {
		t.Fatalf("count older failed: %v", err)
	}
	if olderCount != 1 {
		t.Fatalf("expected 1 older comment, got %d", olderCount)
	}
}

type markerProcessor struct {
	priority int
	key      string
}

func (p *markerProcessor) Priority() int { return p.priority }

func (p *markerProcessor) ProcessActivity(record *Activity) error {
	if record.Transient == nil {
		record.Transient = map[string]string{}
	}
	record.Transient["order"] = record.Transient["order"] + p.key
	return nil
}

func (p *markerProcessor) ProcessComment(comment *Comment) error {
	if comment.Transient == nil {
		comment.Transient = map[string]string{}
	}
	comment.Transient["order"] = comment.Transient["order"] + p.key
	return nil
}

func TestProcessorsRunInPriorityOrderOnRead(t *testing.T) {
	store := mustStore(t, "act-proc")
	store.RegisterProcessor(&markerProcessor{priority: 20, key: "b"})
	store.RegisterProcessor(&markerProcessor{priority: 10, key: "a"})

	created := mustCreateActivity(t, store, validActivity("proc", 1700000000000))
	loaded, err := store.GetActivity(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get activity failed: %v", err)
	}
	if loaded.Transient["order"] != "ab" {
		t.Fatalf("expected processors in priority order, got %q", loaded.Transient["order"])
	}
}
