package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/pkg/types"
)

// ErrInvalidDocument marks a document that can never be indexed; callers must
// not retry it.
var ErrInvalidDocument = errors.New("invalid document")

// IndexError is returned by Upsert when a write ultimately fails. Transient
// reports whether the failure was retryable (retries already exhausted by the
// time the caller sees it).
type IndexError struct {
	Key       string
	Transient bool
	Err       error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index write failed for %s: %v", e.Key, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// Writer upserts categorized emails into the search store.
type Writer struct {
	index       *Index
	logger      *logrus.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// NewWriter creates a writer over the given index.
func NewWriter(index *Index, logger *logrus.Logger) *Writer {
	return &Writer{
		index:       index,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
	}
}

// Upsert writes the email keyed by (message_id, account, folder): a repeated
// call for the same logical message updates the stored document instead of
// duplicating it. Transient failures are retried with exponential backoff;
// exhausting the attempts returns an IndexError so the caller can leave the
// message unacknowledged.
func (w *Writer) Upsert(ctx context.Context, email *types.Email) error {
	if err := validate(email); err != nil {
		w.logger.WithError(err).WithField("key", email.DedupKey()).Error("Rejected document")
		return &IndexError{Key: email.DedupKey(), Transient: false, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := w.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return &IndexError{Key: email.DedupKey(), Transient: true, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if lastErr = w.upsertOnce(ctx, email); lastErr == nil {
			return nil
		}

		w.logger.WithError(lastErr).WithFields(logrus.Fields{
			"key":     email.DedupKey(),
			"attempt": attempt + 1,
		}).Warn("Index write failed")
	}

	return &IndexError{Key: email.DedupKey(), Transient: true, Err: lastErr}
}

func (w *Writer) upsertOnce(ctx context.Context, email *types.Email) error {
	query := `
		INSERT INTO emails (message_id, account, folder, uid, subject, sender, recipient, date, body_text, body_html, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, account, folder) DO UPDATE SET
			uid = excluded.uid,
			subject = excluded.subject,
			sender = excluded.sender,
			recipient = excluded.recipient,
			date = excluded.date,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			category = excluded.category,
			indexed_at = CURRENT_TIMESTAMP
	`
	_, err := w.index.DB().ExecContext(ctx, query,
		email.MessageID,
		email.Account,
		email.Folder,
		email.UID,
		email.Subject,
		email.From,
		email.To,
		email.Date.UTC().Format(time.RFC3339),
		email.Text,
		email.HTML,
		email.Category,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert email: %w", err)
	}
	return nil
}

// validate rejects documents that would corrupt the dedup key.
func validate(email *types.Email) error {
	if email.MessageID == "" {
		return fmt.Errorf("%w: empty message_id", ErrInvalidDocument)
	}
	if email.Account == "" {
		return fmt.Errorf("%w: empty account", ErrInvalidDocument)
	}
	if email.Folder == "" {
		return fmt.Errorf("%w: empty folder", ErrInvalidDocument)
	}
	if email.Date.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidDocument)
	}
	return nil
}
