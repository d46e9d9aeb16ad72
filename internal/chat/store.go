package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linkhub/realtime/internal/errs"
)

// Store manages chats, messages, and read receipts in PostgreSQL. Messages
// are stored and indexed newest-first per chat for efficient "latest N"
// pagination; the delivery layer reverses pages before presenting the
// oldest-first contract to callers.
type Store struct {
	db *sql.DB
}

// NewStore creates a chat store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// rowScanner abstracts *sql.Row so scanChat can be exercised without a
// database.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChat reads the seven chat columns selected by the single-row chat
// queries. The last-message pair is nullable until the first send.
func scanChat(row rowScanner) (*Chat, error) {
	var (
		c         Chat
		lastMsgID sql.NullString
		lastTime  sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB,
		&lastMsgID, &lastTime, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Participants = []string{c.ParticipantA, c.ParticipantB}
	if lastMsgID.Valid {
		c.LastMessageID = lastMsgID.String
	}
	if lastTime.Valid {
		t := lastTime.Time
		c.LastMessageTime = &t
	}
	return &c, nil
}

// FindOrCreateChat returns the single chat for the unordered participant
// pair, creating it if necessary. The upsert on the sorted pair makes
// creation idempotent under concurrent callers.
func (s *Store) FindOrCreateChat(ctx context.Context, userX, userY string) (*Chat, error) {
	a, b, err := SortPair(userX, userY)
	if err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO chats (id, participant_a, participant_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_a, participant_b)
		DO UPDATE SET updated_at = chats.updated_at
		RETURNING id, participant_a, participant_b, last_message_id,
		          last_message_time, created_at, updated_at`

	row := s.db.QueryRowContext(ctx, query, uuid.NewString(), a, b)
	c, err := scanChat(row)
	if err != nil {
		return nil, errs.Transientf("chat: find or create: %v", err)
	}
	return c, nil
}

// GetChat retrieves a chat by id.
func (s *Store) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	const query = `
		SELECT id, participant_a, participant_b, last_message_id,
		       last_message_time, created_at, updated_at
		FROM chats
		WHERE id = $1`

	c, err := scanChat(s.db.QueryRowContext(ctx, query, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundf("chat %s", chatID)
	}
	if err != nil {
		return nil, errs.Transientf("chat: get %s: %v", chatID, err)
	}
	return c, nil
}

// ListChats returns every chat the user participates in, most recently
// active first, with a preview of the last message when one exists.
func (s *Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	const query = `
		SELECT c.id, c.participant_a, c.participant_b, c.last_message_id,
		       c.last_message_time, c.created_at, c.updated_at,
		       m.id, m.sender_id, m.content, m.message_type, m.is_deleted, m.created_at
		FROM chats c
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE c.participant_a = $1 OR c.participant_b = $1
		ORDER BY c.last_message_time DESC NULLS LAST, c.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errs.Transientf("chat: list for %s: %v", userID, err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var (
			c         Chat
			lastMsgID sql.NullString
			lastTime  sql.NullTime
			mID       sql.NullString
			mSender   sql.NullString
			mContent  sql.NullString
			mType     sql.NullString
			mDeleted  sql.NullBool
			mCreated  sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB,
			&lastMsgID, &lastTime, &c.CreatedAt, &c.UpdatedAt,
			&mID, &mSender, &mContent, &mType, &mDeleted, &mCreated); err != nil {
			return nil, errs.Transientf("chat: scan list row: %v", err)
		}
		c.Participants = []string{c.ParticipantA, c.ParticipantB}
		if lastMsgID.Valid {
			c.LastMessageID = lastMsgID.String
		}
		if lastTime.Valid {
			t := lastTime.Time
			c.LastMessageTime = &t
		}
		if mID.Valid && !mDeleted.Bool {
			c.LastMessage = &Message{
				ID:          mID.String,
				ChatID:      c.ID,
				SenderID:    mSender.String,
				Content:     mContent.String,
				MessageType: mType.String,
				CreatedAt:   mCreated.Time,
			}
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transientf("chat: iterate list: %v", err)
	}
	return chats, nil
}

// InsertMessage persists a new message. The caller assigns ID and CreatedAt.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages (id, chat_id, sender_id, content, message_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ChatID, m.SenderID, m.Content, m.MessageType, m.CreatedAt)
	if err != nil {
		return errs.Transientf("chat: insert message: %v", err)
	}
	return nil
}

// TouchLastMessage moves the chat's last-message pointer. This write is not
// atomic with the message insert; a brief stale-pointer window is accepted
// and both converge.
func (s *Store) TouchLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	const query = `
		UPDATE chats
		SET last_message_id = $2, last_message_time = $3, updated_at = now()
		WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, chatID, messageID, at)
	if err != nil {
		return errs.Transientf("chat: touch last message: %v", err)
	}
	return nil
}

// GetMessage retrieves a message by id, including soft-deleted ones so that
// delete authorization can be checked.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	const query = `
		SELECT id, chat_id, sender_id, content, message_type, is_deleted, created_at
		FROM messages
		WHERE id = $1`

	var m Message
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MessageType,
		&m.IsDeleted, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundf("message %s", messageID)
	}
	if err != nil {
		return nil, errs.Transientf("chat: get message %s: %v", messageID, err)
	}
	return &m, nil
}

// ListMessages returns one page of a chat's messages in storage order
// (newest first), excluding soft-deleted ones, with read receipts attached.
// Page numbering starts at 1.
func (s *Store) ListMessages(ctx context.Context, chatID string, page, limit int) ([]Message, error) {
	const query = `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.message_type,
		       m.is_deleted, m.created_at,
		       COALESCE(json_agg(json_build_object('userId', r.user_id, 'readAt', r.read_at))
		                FILTER (WHERE r.user_id IS NOT NULL), '[]')
		FROM messages m
		LEFT JOIN message_reads r ON r.message_id = m.id
		WHERE m.chat_id = $1 AND NOT m.is_deleted
		GROUP BY m.id
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3`

	offset := (page - 1) * limit
	rows, err := s.db.QueryContext(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, errs.Transientf("chat: list messages: %v", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m      Message
			readBy []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content,
			&m.MessageType, &m.IsDeleted, &m.CreatedAt, &readBy); err != nil {
			return nil, errs.Transientf("chat: scan message row: %v", err)
		}
		if err := json.Unmarshal(readBy, &m.ReadBy); err != nil {
			return nil, fmt.Errorf("chat: decode read receipts for %s: %w", m.ID, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transientf("chat: iterate messages: %v", err)
	}
	return msgs, nil
}

// MarkRead appends a read receipt for the reader to every message in the
// chat authored by someone else. The conflict clause makes the append
// idempotent: an existing receipt for the same reader is never duplicated.
// Returns the number of receipts actually added.
func (s *Store) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	const query = `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, now()
		FROM messages m
		WHERE m.chat_id = $1 AND m.sender_id <> $2 AND NOT m.is_deleted
		ON CONFLICT (message_id, user_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, chatID, readerID)
	if err != nil {
		return 0, errs.Transientf("chat: mark read: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// SoftDelete flags a message as deleted. The row stays in storage for
// read-state and audit purposes.
func (s *Store) SoftDelete(ctx context.Context, messageID string) error {
	const query = `UPDATE messages SET is_deleted = true WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return errs.Transientf("chat: soft delete %s: %v", messageID, err)
	}
	return nil
}
