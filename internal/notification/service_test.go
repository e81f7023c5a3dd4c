package notification

import (
	"context"
	"sort"
	"testing"
	"time"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

// memStore is an in-memory Store with the same ordering contract as the
// Postgres implementation: created_at descending, id descending tie-break.
type memStore struct {
	byID map[string]*Notification
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]*Notification{}}
}

func (m *memStore) Insert(_ context.Context, n *Notification) error {
	clone := *n
	m.byID[n.ID] = &clone
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*Notification, error) {
	n, ok := m.byID[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(id)
	}
	clone := *n
	return &clone, nil
}

func (m *memStore) Query(_ context.Context, f Filter, limit, offset int) ([]Notification, error) {
	var all []Notification
	for _, n := range m.byID {
		if f.UserID != "" && n.UserID != f.UserID {
			continue
		}
		all = append(all, *n)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) UpdateReadState(_ context.Context, id string) (int64, error) {
	n, ok := m.byID[id]
	if !ok || n.IsRead {
		return 0, nil
	}
	n.IsRead = true
	n.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (m *memStore) BulkUpdateReadState(_ context.Context, userID string) (int64, error) {
	var affected int64
	for _, n := range m.byID {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.UpdatedAt = time.Now().UTC()
			affected++
		}
	}
	return affected, nil
}

func (m *memStore) CountUnread(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, n := range m.byID {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func newTestService(t *testing.T) (*Service, *memStore) {
	store := newMemStore()
	svc := NewService(store, nil, logger.NewTestLogger(t), time.Second)
	return svc, store
}

func mustCreate(t *testing.T, svc *Service, userID string) *Notification {
	t.Helper()
	n, err := svc.CreateNotification(context.Background(), CreateRequest{
		UserID:   userID,
		Category: CategoryOrderConfirmed,
		Title:    "Order Confirmed",
		Message:  "Your order #1001 has been confirmed. Total: $49.99",
		Metadata: map[string]interface{}{"orderId": "o1"},
	})
	require.NoError(t, err)
	return n
}

// ==========================
// Core Functionality Tests
// ==========================

func TestService_CreateNotification(t *testing.T) {
	svc, store := newTestService(t)

	n := mustCreate(t, svc, "u1")

	assert.NotEmpty(t, n.ID)
	assert.False(t, n.IsRead)
	assert.Equal(t, n.CreatedAt, n.UpdatedAt)
	assert.Equal(t, "o1", n.Metadata["orderId"])

	stored, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)
}

func TestService_CreateNotification_InvalidCategory(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.CreateNotification(context.Background(), CreateRequest{
		UserID:   "u1",
		Category: Category("BOGUS"),
		Title:    "t",
		Message:  "m",
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidCategory, apperrors.CodeOf(err))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Empty(t, store.byID)
}

func TestService_GetByID_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetByID(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_ListByUser_Ordering(t *testing.T) {
	svc, store := newTestService(t)
	base := time.Now().UTC()

	older := &Notification{ID: "a", UserID: "u1", Category: CategoryPromotion,
		CreatedAt: base.Add(-time.Minute), UpdatedAt: base.Add(-time.Minute)}
	newer := &Notification{ID: "b", UserID: "u1", Category: CategoryPromotion,
		CreatedAt: base, UpdatedAt: base}
	tied := &Notification{ID: "c", UserID: "u1", Category: CategoryPromotion,
		CreatedAt: base, UpdatedAt: base}
	other := &Notification{ID: "d", UserID: "u2", Category: CategoryPromotion,
		CreatedAt: base, UpdatedAt: base}
	for _, n := range []*Notification{older, newer, tied, other} {
		require.NoError(t, store.Insert(context.Background(), n))
	}

	got, err := svc.ListByUser(context.Background(), "u1", 10, 0)

	require.NoError(t, err)
	require.Len(t, got, 3)
	// Equal timestamps break ties on id, newest first overall.
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "a", got[2].ID)
}

func TestService_ListByUser_ClampsPaging(t *testing.T) {
	svc, store := newTestService(t)
	base := time.Now().UTC()
	for i := 0; i < 150; i++ {
		n := &Notification{
			ID:        string(rune('a'+i%26)) + string(rune('a'+i/26)),
			UserID:    "u1",
			Category:  CategoryPromotion,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.Insert(context.Background(), n))
	}

	tests := []struct {
		name    string
		limit   int
		offset  int
		wantLen int
	}{
		{"zero limit falls back to default", 0, 0, DefaultLimit},
		{"negative limit falls back to default", -5, 0, DefaultLimit},
		{"oversized limit capped", 1000, 0, MaxLimit},
		{"negative offset treated as zero", 10, -3, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListByUser(context.Background(), "u1", tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestService_MarkAsRead_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	n := mustCreate(t, svc, "u1")

	first, err := svc.MarkAsRead(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, first.IsRead)

	// Second call is a no-op, not an error.
	second, err := svc.MarkAsRead(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, second.IsRead)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestService_MarkAsRead_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.MarkAsRead(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_MarkAllAsRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustCreate(t, svc, "u1")
	}
	read := mustCreate(t, svc, "u1")
	_, err := svc.MarkAsRead(ctx, read.ID)
	require.NoError(t, err)
	mustCreate(t, svc, "u2")

	affected, err := svc.MarkAllAsRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	// Already read: nothing left to transition.
	affected, err = svc.MarkAllAsRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	// Other users untouched.
	count, err := svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// ==========================
// Unread Cache Wiring Tests
// ==========================

func newCachedService(t *testing.T) (*Service, *memStore, redismock.ClientMock) {
	rdb, mock := redismock.NewClientMock()
	store := newMemStore()
	cache := NewUnreadCache(rdb, 30*time.Second, logger.NewTestLogger(t))
	svc := NewService(store, cache, logger.NewTestLogger(t), time.Second)
	return svc, store, mock
}

func TestService_CreateNotification_InvalidatesUnreadCache(t *testing.T) {
	svc, _, mock := newCachedService(t)
	mock.ExpectDel("notifications:unread:u1").SetVal(1)

	mustCreate(t, svc, "u1")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_MarkAsRead_InvalidatesUnreadCache(t *testing.T) {
	svc, _, mock := newCachedService(t)
	mock.ExpectDel("notifications:unread:u1").SetVal(1) // create
	mock.ExpectDel("notifications:unread:u1").SetVal(1) // mark

	n := mustCreate(t, svc, "u1")
	_, err := svc.MarkAsRead(context.Background(), n.ID)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_MarkAllAsRead_InvalidatesUnreadCache(t *testing.T) {
	svc, _, mock := newCachedService(t)
	mock.ExpectDel("notifications:unread:u1").SetVal(1) // create
	mock.ExpectDel("notifications:unread:u1").SetVal(1) // create
	mock.ExpectDel("notifications:unread:u1").SetVal(1) // bulk mark

	ctx := context.Background()
	mustCreate(t, svc, "u1")
	mustCreate(t, svc, "u1")

	affected, err := svc.MarkAllAsRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	require.NoError(t, mock.ExpectationsWereMet())

	// Nothing left unread: no invalidation on the second bulk call.
	affected, err = svc.MarkAllAsRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_UnreadCount_CacheHit(t *testing.T) {
	svc, _, mock := newCachedService(t)
	mock.ExpectGet("notifications:unread:u1").SetVal("5")

	// The store is empty; 5 can only come from the cache.
	count, err := svc.UnreadCount(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_UnreadCount_CacheMissFallsThrough(t *testing.T) {
	svc, store, mock := newCachedService(t)
	now := time.Now().UTC()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, store.Insert(context.Background(), &Notification{
			ID: id, UserID: "u1", Category: CategoryPromotion,
			CreatedAt: now, UpdatedAt: now,
		}))
	}

	mock.ExpectGet("notifications:unread:u1").RedisNil()
	mock.ExpectSet("notifications:unread:u1", int64(2), 30*time.Second).SetVal("OK")

	count, err := svc.UnreadCount(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_UnreadCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	count, err := svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	first := mustCreate(t, svc, "u2")
	mustCreate(t, svc, "u2")

	count, err = svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = svc.MarkAsRead(ctx, first.ID)
	require.NoError(t, err)

	count, err = svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
