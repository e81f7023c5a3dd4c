package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"
)

// PostgresStore implements Store on top of the notifications table.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "postgres-store"}),
	}
}

const notificationColumns = `id, user_id, type, title, message, is_read, metadata, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, n *Notification) error {
	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return apperrors.NewStoreUnavailableError(fmt.Errorf("marshal metadata: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, type, title, message, is_read, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID,
		n.UserID,
		string(n.Category),
		n.Title,
		n.Message,
		n.IsRead,
		metadataJSON,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return s.wrapErr("insert", err)
	}

	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE id = $1`, id)

	n, err := scanNotification(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(id)
		}
		return nil, s.wrapErr("get_by_id", err)
	}

	return n, nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter, limit, offset int) ([]Notification, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if f.UserID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+notificationColumns+`
			FROM notifications
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3`, f.UserID, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+notificationColumns+`
			FROM notifications
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, s.wrapErr("query", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, s.wrapErr("query", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr("query", err)
	}

	return out, nil
}

func (s *PostgresStore) UpdateReadState(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, updated_at = $2
		WHERE id = $1 AND is_read = FALSE`,
		id, time.Now().UTC())
	if err != nil {
		return 0, s.wrapErr("update_read_state", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrapErr("update_read_state", err)
	}
	return affected, nil
}

func (s *PostgresStore) BulkUpdateReadState(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, updated_at = $2
		WHERE user_id = $1 AND is_read = FALSE`,
		userID, time.Now().UTC())
	if err != nil {
		return 0, s.wrapErr("bulk_update_read_state", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrapErr("bulk_update_read_state", err)
	}
	return affected, nil
}

func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM notifications
		WHERE user_id = $1 AND is_read = FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, s.wrapErr("count_unread", err)
	}
	return count, nil
}

// wrapErr maps driver errors onto the store error taxonomy.
func (s *PostgresStore) wrapErr(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("store call timed out", map[string]interface{}{
			"operation": operation,
		})
		return apperrors.NewStoreTimeoutError(operation)
	}

	s.logger.Error("store call failed", map[string]interface{}{
		"operation": operation,
		"error":     err.Error(),
	})
	return apperrors.NewStoreUnavailableError(err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var (
		n            Notification
		category     string
		metadataJSON []byte
	)

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&category,
		&n.Title,
		&n.Message,
		&n.IsRead,
		&metadataJSON,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Category = Category(category)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &n, nil
}
