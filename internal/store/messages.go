package store

import (
	"database/sql"
	"fmt"
	"sort"
)

// Message represents one mirrored message row. ArchivedAt records when
// the row entered the mirror; it is set by the schema default on insert.
type Message struct {
	EmailID    string
	Subject    sql.NullString
	BodyText   sql.NullString
	Date       sql.NullTime
	Deleted    bool
	ArchivedAt string
}

// AddressRole classifies an address index entry.
type AddressRole string

const (
	RoleTo   AddressRole = "to"
	RoleFrom AddressRole = "from"
)

// IntegrityError indicates a write that would violate the requirement
// that every side-table row references an existing message.
type IntegrityError struct {
	EmailID string
	Op      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("store: %s: no message row for %s", e.Op, e.EmailID)
}

// InsertMessage inserts a newly discovered message with its thread
// membership, label set, and address index in one transaction. The
// thread row is write-once; re-inserting an existing message is an error.
func (s *Store) InsertMessage(msg *Message, threadID string, labelIDs []string, toAddrs, fromAddrs []string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO messages (email_id, subject, body_text, date, deleted)
			VALUES (?, ?, ?, ?, 0)
		`, msg.EmailID, msg.Subject, msg.BodyText, msg.Date)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", msg.EmailID, err)
		}

		if _, err := tx.Exec(`
			INSERT INTO message_threads (email_id, thread_id) VALUES (?, ?)
		`, msg.EmailID, threadID); err != nil {
			return fmt.Errorf("insert thread row: %w", err)
		}

		for _, labelID := range labelIDs {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO message_labels (email_id, label_id) VALUES (?, ?)
			`, msg.EmailID, labelID); err != nil {
				return fmt.Errorf("insert label row: %w", err)
			}
		}

		if err := insertAddresses(tx, msg.EmailID, RoleTo, toAddrs); err != nil {
			return err
		}
		return insertAddresses(tx, msg.EmailID, RoleFrom, fromAddrs)
	})
}

func insertAddresses(tx *sql.Tx, emailID string, role AddressRole, addrs []string) error {
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO message_addresses (email_id, address, role) VALUES (?, ?, ?)
		`, emailID, addr, string(role)); err != nil {
			return fmt.Errorf("insert address row: %w", err)
		}
	}
	return nil
}

// HasMessage reports whether a message row exists (tombstoned or not).
func (s *Store) HasMessage(emailID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM messages WHERE email_id = ?`, emailID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListMessageIDs returns the full set of mirrored message IDs, including
// tombstoned rows that are no longer deleted remotely. Reconciliation
// diffs against this set.
func (s *Store) ListMessageIDs() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT email_id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("list message ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MarkDeleted tombstones the given messages. Rows are never physically
// removed so history and the relational side tables survive a remote
// deletion. Returns the number of newly tombstoned rows.
func (s *Store) MarkDeleted(emailIDs []string) (int64, error) {
	if len(emailIDs) == 0 {
		return 0, nil
	}
	return execInChunks(s.db, emailIDs,
		`UPDATE messages SET deleted = 1 WHERE deleted = 0 AND email_id IN (%s)`)
}

// GetMessageLabels returns the locally recorded label set for a message,
// sorted for deterministic comparison.
func (s *Store) GetMessageLabels(emailID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT label_id FROM message_labels WHERE email_id = ?
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("get labels for %s: %w", emailID, err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(labels)
	return labels, nil
}

// ApplyLabelDelta applies a label-set delta for one message in a single
// transaction: the added rows and the removed rows commit or fail
// together. Only the drift is written; unchanged rows are untouched.
func (s *Store) ApplyLabelDelta(emailID string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	exists, err := s.HasMessage(emailID)
	if err != nil {
		return err
	}
	if !exists {
		return &IntegrityError{EmailID: emailID, Op: "apply label delta"}
	}

	return s.withTx(func(tx *sql.Tx) error {
		for _, labelID := range add {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO message_labels (email_id, label_id) VALUES (?, ?)
			`, emailID, labelID); err != nil {
				return fmt.Errorf("add label %s: %w", labelID, err)
			}
		}
		for _, labelID := range remove {
			if _, err := tx.Exec(`
				DELETE FROM message_labels WHERE email_id = ? AND label_id = ?
			`, emailID, labelID); err != nil {
				return fmt.Errorf("remove label %s: %w", labelID, err)
			}
		}
		return nil
	})
}

// GetMessages returns all mirrored messages, excluding tombstoned rows
// unless includeDeleted is set.
func (s *Store) GetMessages(includeDeleted bool) ([]*Message, error) {
	query := `
		SELECT email_id, subject, body_text, date, deleted, archived_at
		FROM messages
	`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	query += ` ORDER BY email_id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessagesByLabel returns the messages carrying the given label,
// excluding tombstoned rows unless includeDeleted is set.
func (s *Store) GetMessagesByLabel(labelID string, includeDeleted bool) ([]*Message, error) {
	query := `
		SELECT m.email_id, m.subject, m.body_text, m.date, m.deleted, m.archived_at
		FROM messages m
		JOIN message_labels ml ON ml.email_id = m.email_id
		WHERE ml.label_id = ?
	`
	if !includeDeleted {
		query += ` AND m.deleted = 0`
	}
	query += ` ORDER BY m.email_id`

	rows, err := s.db.Query(query, labelID)
	if err != nil {
		return nil, fmt.Errorf("get messages by label: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetThreadID returns the thread the message belongs to, or empty when
// the message is unknown.
func (s *Store) GetThreadID(emailID string) (string, error) {
	var threadID string
	err := s.db.QueryRow(`
		SELECT thread_id FROM message_threads WHERE email_id = ?
	`, emailID).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return threadID, err
}

// GetAddresses returns the normalized addresses indexed for a message in
// the given role. Tombstoned messages stay queryable here.
func (s *Store) GetAddresses(emailID string, role AddressRole) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT address FROM message_addresses
		WHERE email_id = ? AND role = ?
		ORDER BY address
	`, emailID, string(role))
	if err != nil {
		return nil, fmt.Errorf("get addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.EmailID, &m.Subject, &m.BodyText, &m.Date, &m.Deleted, &m.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
