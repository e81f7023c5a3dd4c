package notification

import (
	"context"
	"time"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/metrics"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100

	defaultStoreTimeout = 5 * time.Second
)

// Service is the single entry point for notification data: the ingestion
// consumer creates through it, the API layer reads and updates through it.
// It holds no mutable state; atomicity is delegated to the store.
type Service struct {
	store        Store
	cache        *UnreadCache // optional
	logger       logger.Logger
	storeTimeout time.Duration
}

// NewService creates the facade. cache may be nil, in which case every
// unread count goes to the store.
func NewService(store Store, cache *UnreadCache, log logger.Logger, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Service{
		store:        store,
		cache:        cache,
		logger:       log.WithFields(map[string]interface{}{"component": "notification-service"}),
		storeTimeout: storeTimeout,
	}
}

// withTimeout bounds a store call unless the caller already set a deadline.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// CreateNotification validates the category, assigns id and timestamps, and
// persists the record.
func (s *Service) CreateNotification(ctx context.Context, req CreateRequest) (*Notification, error) {
	if !req.Category.Valid() {
		return nil, apperrors.NewInvalidCategoryError(string(req.Category))
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	now := time.Now().UTC()
	n := &Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Category:  req.Category,
		Title:     req.Title,
		Message:   req.Message,
		IsRead:    false,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.Insert(ctx, n); err != nil {
		return nil, err
	}

	metrics.NotificationsCreated.WithLabelValues(string(n.Category)).Inc()
	s.invalidateUnread(ctx, n.UserID)

	s.logger.Info("notification created", map[string]interface{}{
		"notificationId": n.ID,
		"userId":         n.UserID,
		"category":       string(n.Category),
	})

	return n, nil
}

// GetByID returns the notification or a NOT_FOUND error.
func (s *Service) GetByID(ctx context.Context, id string) (*Notification, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.store.GetByID(ctx, id)
}

// ListByUser returns the user's notifications, most recent first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Notification, error) {
	limit, offset = clampPage(limit, offset)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.store.Query(ctx, Filter{UserID: userID}, limit, offset)
}

// ListAll returns notifications across all users, most recent first.
// Administrative use.
func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]Notification, error) {
	limit, offset = clampPage(limit, offset)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.store.Query(ctx, Filter{}, limit, offset)
}

// MarkAsRead transitions a single notification to read. Idempotent: an
// already-read notification is returned unchanged. NOT_FOUND if id is
// absent.
func (s *Service) MarkAsRead(ctx context.Context, id string) (*Notification, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	affected, err := s.store.UpdateReadState(ctx, id)
	if err != nil {
		return nil, err
	}

	// Zero rows means either already read or missing; the fetch decides.
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if affected > 0 {
		s.invalidateUnread(ctx, n.UserID)
		s.logger.Info("notification marked as read", map[string]interface{}{
			"notificationId": id,
			"userId":         n.UserID,
		})
	}

	return n, nil
}

// MarkAllAsRead transitions every unread notification of the user in one
// bulk statement and returns how many actually changed.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	affected, err := s.store.BulkUpdateReadState(ctx, userID)
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.invalidateUnread(ctx, userID)
	}

	s.logger.Info("all notifications marked as read", map[string]interface{}{
		"userId":  userID,
		"updated": affected,
	})

	return affected, nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if s.cache != nil {
		if count, ok := s.cache.Get(ctx, userID); ok {
			return count, nil
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, userID, count)
	}

	return count, nil
}

func (s *Service) invalidateUnread(ctx context.Context, userID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
