package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/onebox/pkg/types"
)

// SearchOptions contains search parameters. Empty string fields are ignored.
type SearchOptions struct {
	Query    string
	Category string
	Folder   string
	Account  string
	Limit    int
}

// Search queries indexed emails. The free-text query runs against the FTS
// index; category, folder and account are exact filters.
func (i *Index) Search(ctx context.Context, opts SearchOptions) ([]types.IndexedDocument, error) {
	var conditions []string
	var args []interface{}

	if opts.Query != "" {
		// Escape special characters for FTS5
		q := strings.ReplaceAll(opts.Query, "\"", "\"\"")
		q = strings.ReplaceAll(q, "'", "''")
		conditions = append(conditions, "e.id IN (SELECT rowid FROM emails_fts WHERE emails_fts MATCH ?)")
		args = append(args, q)
	}

	if opts.Category != "" {
		conditions = append(conditions, "e.category = ?")
		args = append(args, opts.Category)
	}

	if opts.Folder != "" {
		conditions = append(conditions, "e.folder = ?")
		args = append(args, opts.Folder)
	}

	if opts.Account != "" {
		conditions = append(conditions, "e.account = ?")
		args = append(args, opts.Account)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.message_id, e.account, e.folder, e.uid, e.subject, e.sender, e.recipient, e.date, e.body_text, e.body_html, e.category, e.indexed_at
		FROM emails e
		%s
		ORDER BY e.date DESC
		LIMIT ?
	`, whereClause)

	args = append(args, limit)

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	defer rows.Close()

	var results []types.IndexedDocument
	for rows.Next() {
		var doc types.IndexedDocument
		var dateStr, indexedAtStr string
		var bodyText, bodyHTML sql.NullString

		err := rows.Scan(
			&doc.ID,
			&doc.MessageID,
			&doc.Account,
			&doc.Folder,
			&doc.UID,
			&doc.Subject,
			&doc.From,
			&doc.To,
			&dateStr,
			&bodyText,
			&bodyHTML,
			&doc.Category,
			&indexedAtStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}

		doc.Date = parseStoredTime(dateStr)
		doc.IndexedAt = parseStoredTime(indexedAtStr)
		doc.Text = bodyText.String
		doc.HTML = bodyHTML.String

		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	return results, nil
}

// parseStoredTime accepts both formats SQLite hands back for DATETIME columns.
func parseStoredTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
