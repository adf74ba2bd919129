package activity

import (
	"encoding/json"
	"errors"
)

var (
	// ErrMissingTitle indicates an activity or comment was submitted without a title.
	ErrMissingTitle = errors.New("activity: title is required")
	// ErrMissingPostedTime indicates a create was attempted without a posted time.
	ErrMissingPostedTime = errors.New("activity: posted time is required")
	// ErrMissingUpdatedTime indicates a create was attempted without an updated time.
	ErrMissingUpdatedTime = errors.New("activity: updated time is required")
	// ErrMissingOwner indicates a create was attempted without an owning stream.
	ErrMissingOwner = errors.New("activity: stream owner is required")
	// ErrMissingPoster indicates a create was attempted without a poster identity.
	ErrMissingPoster = errors.New("activity: poster identity is required")
	// ErrActivityNotFound indicates the activity id does not resolve in the store.
	ErrActivityNotFound = errors.New("activity: activity not found")
	// ErrCommentNotFound indicates the comment id does not resolve in the store.
	ErrCommentNotFound = errors.New("activity: comment not found")
)

// Activity is the canonical record of a posted activity. List- and map-valued
// fields are persisted as JSON text columns; use the typed accessors.
type Activity struct {
	ID             string `gorm:"column:activity_id;primaryKey;size:190;not null"`
	PosterID       string `gorm:"column:poster_id;size:190;not null;index:idx_activities_poster"`
	StreamID       string `gorm:"column:stream_id;size:190;not null"`
	OwnerHandle    string `gorm:"column:owner_handle;size:190;not null"`
	Title          string `gorm:"column:title;type:text;not null"`
	TitleID        string `gorm:"column:title_id;size:190"`
	Body           string `gorm:"column:body;type:text"`
	BodyID         string `gorm:"column:body_id;size:190"`
	Type           string `gorm:"column:activity_type;size:190"`
	AppID          string `gorm:"column:app_id;size:190"`
	ExternalID     string `gorm:"column:external_id;size:190"`
	LikersJSON     string `gorm:"column:likers_json;type:text;not null;default:'[]'"`
	MentionsJSON   string `gorm:"column:mentions_json;type:text;not null;default:'[]'"`
	CommentIDsJSON string `gorm:"column:comment_ids_json;type:text;not null;default:'[]'"`
	ParamsJSON     string `gorm:"column:params_json;type:text;not null;default:'{}'"`
	PostedAtMillis int64  `gorm:"column:posted_at_ms;not null;index:idx_activities_posted,sort:desc"`
	UpdatedAtMilli int64  `gorm:"column:updated_at_ms;not null"`
	Hidden         bool   `gorm:"column:hidden;not null;default:false"`
	Locked         bool   `gorm:"column:locked;not null;default:false"`

	// Transient carries per-read values attached by post processors. Never persisted.
	Transient map[string]string `gorm:"-"`

	// Stream describes the owning stream, attached on read.
	Stream *StreamDescriptor `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "activities"
}

// StreamDescriptor identifies the stream an activity was posted to.
type StreamDescriptor struct {
	ID     string
	Handle string
	Kind   string
}

// Comment is a reply owned by exactly one activity. The parent activity's
// comment id list is the forward index; ActivityID is the back-reference.
type Comment struct {
	ID             string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	ActivityID     string `gorm:"column:activity_id;size:190;not null;index:idx_comments_activity_posted,priority:1"`
	PosterID       string `gorm:"column:poster_id;size:190;not null"`
	Title          string `gorm:"column:title;type:text;not null"`
	TitleID        string `gorm:"column:title_id;size:190"`
	Body           string `gorm:"column:body;type:text"`
	BodyID         string `gorm:"column:body_id;size:190"`
	Type           string `gorm:"column:comment_type;size:190"`
	ParamsJSON     string `gorm:"column:params_json;type:text;not null;default:'{}'"`
	PostedAtMillis int64  `gorm:"column:posted_at_ms;not null;index:idx_comments_activity_posted,priority:2"`
	UpdatedAtMilli int64  `gorm:"column:updated_at_ms;not null"`
	Hidden         bool   `gorm:"column:hidden;not null;default:false"`
	Locked         bool   `gorm:"column:locked;not null;default:false"`

	// Transient carries per-read values attached by post processors. Never persisted.
	Transient map[string]string `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// LikerIDs returns the ordered liker identity ids.
func (a *Activity) LikerIDs() []string {
	return decodeStringList(a.LikersJSON)
}

// SetLikerIDs replaces the liker identity id list.
func (a *Activity) SetLikerIDs(ids []string) {
	a.LikersJSON = encodeStringList(ids)
}

// MentionedIDs returns the ordered mentioned identity ids.
func (a *Activity) MentionedIDs() []string {
	return decodeStringList(a.MentionsJSON)
}

// SetMentionedIDs replaces the mentioned identity id list.
func (a *Activity) SetMentionedIDs(ids []string) {
	a.MentionsJSON = encodeStringList(ids)
}

// CommentIDs returns the comment ids in reply order.
func (a *Activity) CommentIDs() []string {
	return decodeStringList(a.CommentIDsJSON)
}

// SetCommentIDs replaces the comment id list.
func (a *Activity) SetCommentIDs(ids []string) {
	a.CommentIDsJSON = encodeStringList(ids)
}

// TemplateParams returns the free-form template parameter map.
func (a *Activity) TemplateParams() map[string]string {
	return decodeStringMap(a.ParamsJSON)
}

// SetTemplateParams replaces the template parameter map.
func (a *Activity) SetTemplateParams(params map[string]string) {
	a.ParamsJSON = encodeStringMap(params)
}

// TemplateParams returns the free-form template parameter map.
func (c *Comment) TemplateParams() map[string]string {
	return decodeStringMap(c.ParamsJSON)
}

// SetTemplateParams replaces the template parameter map.
func (c *Comment) SetTemplateParams(params map[string]string) {
	c.ParamsJSON = encodeStringMap(params)
}

// ActivityPatch describes a merge-patch applied to a stored activity. Nil
// fields are left untouched; the updated time is always refreshed.
type ActivityPatch struct {
	Title          *string
	TitleID        *string
	Body           *string
	BodyID         *string
	Type           *string
	AppID          *string
	ExternalID     *string
	Hidden         *bool
	Locked         *bool
	LikerIDs       *[]string
	MentionedIDs   *[]string
	CommentIDs     *[]string
	TemplateParams *map[string]string
}

// CommentPatch describes a merge-patch applied to a stored comment. Nil
// fields are left untouched; the updated time is always refreshed.
type CommentPatch struct {
	Title          *string
	TitleID        *string
	Body           *string
	BodyID         *string
	Type           *string
	Hidden         *bool
	Locked         *bool
	TemplateParams *map[string]string
}

func (a *Activity) validateForCreate() error {
	switch {
	case a.Title == "":
		return ErrMissingTitle
	case a.PostedAtMillis <= 0:
		return ErrMissingPostedTime
	case a.UpdatedAtMilli <= 0:
		return ErrMissingUpdatedTime
	case a.OwnerHandle == "" || a.StreamID == "":
		return ErrMissingOwner
	case a.PosterID == "":
		return ErrMissingPoster
	}
	return nil
}

func (c *Comment) validateForCreate() error {
	switch {
	case c.Title == "":
		return ErrMissingTitle
	case c.ActivityID == "":
		return ErrMissingOwner
	case c.PosterID == "":
		return ErrMissingPoster
	}
	return nil
}

func encodeStringList(values []string) string {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return []string{}
	}
	if values == nil {
		return []string{}
	}
	return values
}

func encodeStringMap(values map[string]string) string {
	if values == nil {
		values = map[string]string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func decodeStringMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	values := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return map[string]string{}
	}
	return values
}
