package activity

import (
	"errors"
	"testing"
)

func TestValidateForCreateReportsMissingFields(t *testing.T) {
	record := &Activity{}
	if err := record.validateForCreate(); !errors.Is(err, ErrMissingTitle) {
		t.Fatalf("expected missing title, got %v", err)
	}

	record.Title = "hello"
	if err := record.validateForCreate(); !errors.Is(err, ErrMissingPostedTime) {
		t.Fatalf("expected missing posted time, got %v", err)
	}

	record.PostedAtMillis = 1700000000000
	if err := record.validateForCreate(); !errors.Is(err, ErrMissingUpdatedTime) {
		t.Fatalf("expected missing updated time, got %v", err)
	}

	record.UpdatedAtMilli = 1700000000000
	if err := record.validateForCreate(); !errors.Is(err, ErrMissingOwner) {
		t.Fatalf("expected missing owner, got %v", err)
	}

	record.OwnerHandle = "alice"
	record.StreamID = "id-alice"
	if err := record.validateForCreate(); !errors.Is(err, ErrMissingPoster) {
		t.Fatalf("expected missing poster, got %v", err)
	}

	record.PosterID = "id-alice"
	if err := record.validateForCreate(); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}
}

func TestCommentValidateForCreateRequiresParent(t *testing.T) {
	comment := &Comment{Title: "reply", PosterID: "id-bob"}
	if err := comment.validateForCreate(); !errors.Is(err, ErrMissingOwner) {
		t.Fatalf("expected missing owner, got %v", err)
	}
	comment.ActivityID = "activity-1"
	if err := comment.validateForCreate(); err != nil {
		t.Fatalf("expected valid comment, got %v", err)
	}
}

func TestListAccessorsRoundTripAndToleratePristineColumns(t *testing.T) {
	record := &Activity{}
	if got := record.LikerIDs(); len(got) != 0 {
		t.Fatalf("expected no likers on pristine record, got %v", got)
	}

	record.SetLikerIDs([]string{"id-bob", "id-carol"})
	likers := record.LikerIDs()
	if len(likers) != 2 || likers[0] != "id-bob" || likers[1] != "id-carol" {
		t.Fatalf("unexpected liker round trip: %v", likers)
	}

	record.SetLikerIDs(nil)
	if record.LikersJSON != "[]" {
		t.Fatalf("expected nil list to persist as empty array, got %q", record.LikersJSON)
	}

	record.ParamsJSON = "not json"
	if got := record.TemplateParams(); len(got) != 0 {
		t.Fatalf("expected corrupt params to decode empty, got %v", got)
	}
}
