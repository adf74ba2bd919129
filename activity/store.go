package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/waveline/activitystream/provider"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreError wraps a failed store operation with a dotted operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew       = "activity.store.new"
	opCreateActivity = "activity.create"
	opGetActivity    = "activity.get"
	opUpdateActivity = "activity.update"
	opDeleteActivity = "activity.delete"
	opCreateComment  = "activity.comment.create"
	opGetComment     = "activity.comment.get"
	opUpdateComment  = "activity.comment.update"
	opDeleteComment  = "activity.comment.delete"
	opListComments   = "activity.comment.list"
	opCountComments  = "activity.comment.count"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// StoreConfig describes the dependencies of the canonical store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Identities provider.IdentityLookup
	Logger     *zap.Logger
}

// Store is the authoritative record of activity and comment content.
// Readers hydrate from it; the fan-out index never supplies content fields.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	identities provider.IdentityLookup
	logger     *zap.Logger
	processors processorChain
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		identities: cfg.Identities,
		logger:     logger,
	}, nil
}

// RegisterProcessor adds a post-read hook. Hooks run in priority order.
func (s *Store) RegisterProcessor(processor Processor) {
	s.processors.register(processor)
}

// NowMillis returns the store clock reading as epoch milliseconds.
func (s *Store) NowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

// CreateActivity validates the record, assigns an id and inserts it.
func (s *Store) CreateActivity(ctx context.Context, record *Activity) error {
	if err := record.validateForCreate(); err != nil {
		return err
	}

	if record.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateActivity, "id_generation_failed", err)
			return newStoreError(opCreateActivity, "id_generation_failed", err)
		}
		record.ID = id
	}
	if record.LikersJSON == "" {
		record.LikersJSON = encodeStringList(nil)
	}
	if record.MentionsJSON == "" {
		record.MentionsJSON = encodeStringList(nil)
	}
	if record.CommentIDsJSON == "" {
		record.CommentIDsJSON = encodeStringList(nil)
	}
	if record.ParamsJSON == "" {
		record.ParamsJSON = encodeStringMap(nil)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logError(opCreateActivity, "insert_failed", err, zap.String("activity_id", record.ID))
		return newStoreError(opCreateActivity, "insert_failed", err)
	}
	return nil
}

// GetActivity loads one activity, attaches its stream descriptor and runs
// the post-read processors.
func (s *Store) GetActivity(ctx context.Context, activityID string) (*Activity, error) {
	var record Activity
	err := s.db.WithContext(ctx).Where("activity_id = ?", activityID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, activityID)
	}
	if err != nil {
		s.logError(opGetActivity, "query_failed", err, zap.String("activity_id", activityID))
		return nil, newStoreError(opGetActivity, "query_failed", err)
	}

	s.attachStream(ctx, &record)
	s.processors.runActivity(&record, s.logger)
	return &record, nil
}

// UpdateActivity applies a merge-patch: only supplied fields change, and the
// updated time always advances to the current clock reading.
func (s *Store) UpdateActivity(ctx context.Context, activityID string, patch ActivityPatch) (*Activity, error) {
	var record Activity
	err := s.db.WithContext(ctx).Where("activity_id = ?", activityID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, activityID)
	}
	if err != nil {
		s.logError(opUpdateActivity, "select_failed", err, zap.String("activity_id", activityID))
		return nil, newStoreError(opUpdateActivity, "select_failed", err)
	}

	applyPatch(&record, patch)
	record.UpdatedAtMilli = s.NowMillis()

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opUpdateActivity, "save_failed", err, zap.String("activity_id", activityID))
		return nil, newStoreError(opUpdateActivity, "save_failed", err)
	}
	return &record, nil
}

// DeleteActivity removes the canonical record and its comments. Fan-out
// pointers are removed by the caller, not here.
func (s *Store) DeleteActivity(ctx context.Context, activityID string) error {
	result := s.db.WithContext(ctx).Where("activity_id = ?", activityID).Delete(&Activity{})
	if result.Error != nil {
		s.logError(opDeleteActivity, "delete_failed", result.Error, zap.String("activity_id", activityID))
		return newStoreError(opDeleteActivity, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrActivityNotFound, activityID)
	}
	if err := s.db.WithContext(ctx).Where("activity_id = ?", activityID).Delete(&Comment{}).Error; err != nil {
		s.logError(opDeleteActivity, "comment_cascade_failed", err, zap.String("activity_id", activityID))
		return newStoreError(opDeleteActivity, "comment_cascade_failed", err)
	}
	return nil
}

// CreateComment validates the comment, assigns an id and inserts it. The
// parent activity's comment id list is maintained by the caller.
func (s *Store) CreateComment(ctx context.Context, record *Comment) error {
	if err := record.validateForCreate(); err != nil {
		return err
	}

	if record.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateComment, "id_generation_failed", err)
			return newStoreError(opCreateComment, "id_generation_failed", err)
		}
		record.ID = id
	}
	if record.ParamsJSON == "" {
		record.ParamsJSON = encodeStringMap(nil)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logError(opCreateComment, "insert_failed", err,
			zap.String("activity_id", record.ActivityID),
			zap.String("comment_id", record.ID))
		return newStoreError(opCreateComment, "insert_failed", err)
	}
	return nil
}

// GetComment loads one comment and runs the post-read processors.
func (s *Store) GetComment(ctx context.Context, commentID string) (*Comment, error) {
	var record Comment
	err := s.db.WithContext(ctx).Where("comment_id = ?", commentID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	if err != nil {
		s.logError(opGetComment, "query_failed", err, zap.String("comment_id", commentID))
		return nil, newStoreError(opGetComment, "query_failed", err)
	}

	s.processors.runComment(&record, s.logger)
	return &record, nil
}

// UpdateComment applies a merge-patch to a comment: only supplied fields
// change, and the updated time always advances to the current clock reading.
func (s *Store) UpdateComment(ctx context.Context, commentID string, patch CommentPatch) (*Comment, error) {
	var record Comment
	err := s.db.WithContext(ctx).Where("comment_id = ?", commentID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	if err != nil {
		s.logError(opUpdateComment, "select_failed", err, zap.String("comment_id", commentID))
		return nil, newStoreError(opUpdateComment, "select_failed", err)
	}

	applyCommentPatch(&record, patch)
	record.UpdatedAtMilli = s.NowMillis()

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opUpdateComment, "save_failed", err, zap.String("comment_id", commentID))
		return nil, newStoreError(opUpdateComment, "save_failed", err)
	}
	return &record, nil
}

// DeleteComment removes a comment and returns the removed record so the
// caller can unwind its fan-out contributions.
func (s *Store) DeleteComment(ctx context.Context, commentID string) (*Comment, error) {
	var record Comment
	err := s.db.WithContext(ctx).Where("comment_id = ?", commentID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	if err != nil {
		s.logError(opDeleteComment, "select_failed", err, zap.String("comment_id", commentID))
		return nil, newStoreError(opDeleteComment, "select_failed", err)
	}

	if err := s.db.WithContext(ctx).Where("comment_id = ?", commentID).Delete(&Comment{}).Error; err != nil {
		s.logError(opDeleteComment, "delete_failed", err, zap.String("comment_id", commentID))
		return nil, newStoreError(opDeleteComment, "delete_failed", err)
	}
	return &record, nil
}

// Comments returns a page of comments for one activity in reply order.
func (s *Store) Comments(ctx context.Context, activityID string, offset, limit int) ([]Comment, error) {
	return s.commentPage(ctx, s.scopeComments(ctx, activityID), offset, limit)
}

// NewerComments returns comments posted strictly after sinceMillis.
func (s *Store) NewerComments(ctx context.Context, activityID string, sinceMillis int64, limit int) ([]Comment, error) {
	scope := s.scopeComments(ctx, activityID).Where("posted_at_ms > ?", sinceMillis)
	return s.commentPage(ctx, scope, 0, limit)
}

// OlderComments returns comments posted strictly before sinceMillis.
func (s *Store) OlderComments(ctx context.Context, activityID string, sinceMillis int64, limit int) ([]Comment, error) {
	scope := s.scopeComments(ctx, activityID).Where("posted_at_ms < ?", sinceMillis)
	return s.commentPage(ctx, scope, 0, limit)
}

// CountComments returns the number of comments on one activity.
func (s *Store) CountComments(ctx context.Context, activityID string) (int, error) {
	return s.commentCount(s.scopeComments(ctx, activityID))
}

// CountNewerComments counts comments posted strictly after sinceMillis.
func (s *Store) CountNewerComments(ctx context.Context, activityID string, sinceMillis int64) (int, error) {
	return s.commentCount(s.scopeComments(ctx, activityID).Where("posted_at_ms > ?", sinceMillis))
}

// CountOlderComments counts comments posted strictly before sinceMillis.
func (s *Store) CountOlderComments(ctx context.Context, activityID string, sinceMillis int64) (int, error) {
	return s.commentCount(s.scopeComments(ctx, activityID).Where("posted_at_ms < ?", sinceMillis))
}

func (s *Store) scopeComments(ctx context.Context, activityID string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&Comment{}).Where("activity_id = ?", activityID)
}

func (s *Store) commentPage(ctx context.Context, scope *gorm.DB, offset, limit int) ([]Comment, error) {
	if offset < 0 {
		offset = 0
	}
	query := scope.Order("posted_at_ms ASC").Offset(offset)
	if limit >= 0 {
		query = query.Limit(limit)
	}

	var records []Comment
	if err := query.Find(&records).Error; err != nil {
		s.logError(opListComments, "query_failed", err)
		return nil, newStoreError(opListComments, "query_failed", err)
	}
	for i := range records {
		s.processors.runComment(&records[i], s.logger)
	}
	return records, nil
}

func (s *Store) commentCount(scope *gorm.DB) (int, error) {
	var count int64
	if err := scope.Count(&count).Error; err != nil {
		s.logError(opCountComments, "query_failed", err)
		return 0, newStoreError(opCountComments, "query_failed", err)
	}
	return int(count), nil
}

// attachStream resolves the owning stream identity. Resolution failures leave
// the descriptor nil; the activity content is still valid without it.
func (s *Store) attachStream(ctx context.Context, record *Activity) {
	if s.identities == nil || record.StreamID == "" {
		return
	}
	identity, found, err := s.identities.ByID(ctx, record.StreamID)
	if err != nil {
		s.logger.Warn("stream identity resolution failed",
			zap.String("activity_id", record.ID),
			zap.String("stream_id", record.StreamID),
			zap.Error(err))
		return
	}
	if !found {
		return
	}
	record.Stream = &StreamDescriptor{
		ID:     identity.ID,
		Handle: identity.Handle,
		Kind:   string(identity.Kind),
	}
}

func applyPatch(record *Activity, patch ActivityPatch) {
	if patch.Title != nil {
		record.Title = *patch.Title
	}
	if patch.TitleID != nil {
		record.TitleID = *patch.TitleID
	}
	if patch.Body != nil {
		record.Body = *patch.Body
	}
	if patch.BodyID != nil {
		record.BodyID = *patch.BodyID
	}
	if patch.Type != nil {
		record.Type = *patch.Type
	}
	if patch.AppID != nil {
		record.AppID = *patch.AppID
	}
	if patch.ExternalID != nil {
		record.ExternalID = *patch.ExternalID
	}
	if patch.Hidden != nil {
		record.Hidden = *patch.Hidden
	}
	if patch.Locked != nil {
		record.Locked = *patch.Locked
	}
	if patch.LikerIDs != nil {
		record.SetLikerIDs(*patch.LikerIDs)
	}
	if patch.MentionedIDs != nil {
		record.SetMentionedIDs(*patch.MentionedIDs)
	}
	if patch.CommentIDs != nil {
		record.SetCommentIDs(*patch.CommentIDs)
	}
	if patch.TemplateParams != nil {
		record.SetTemplateParams(*patch.TemplateParams)
	}
}

func applyCommentPatch(record *Comment, patch CommentPatch) {
	if patch.Title != nil {
		record.Title = *patch.Title
	}
	if patch.TitleID != nil {
		record.TitleID = *patch.TitleID
	}
	if patch.Body != nil {
		record.Body = *patch.Body
	}
	if patch.BodyID != nil {
		record.BodyID = *patch.BodyID
	}
	if patch.Type != nil {
		record.Type = *patch.Type
	}
	if patch.Hidden != nil {
		record.Hidden = *patch.Hidden
	}
	if patch.Locked != nil {
		record.Locked = *patch.Locked
	}
	if patch.TemplateParams != nil {
		record.SetTemplateParams(*patch.TemplateParams)
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("activity store error", attrs...)
}
