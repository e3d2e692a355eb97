package index

// Schema contains SQL schema definitions for the email search index
const Schema = `
-- Indexed emails. (message_id, account, folder) is the deduplication key:
-- repeated writes for the same logical message update the existing row.
CREATE TABLE IF NOT EXISTS emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL,
    account TEXT NOT NULL,
    folder TEXT NOT NULL,
    uid INTEGER NOT NULL DEFAULT 0,
    subject TEXT,
    sender TEXT,
    recipient TEXT,
    date DATETIME NOT NULL,
    body_text TEXT,
    body_html TEXT,
    category TEXT NOT NULL DEFAULT 'Uncategorized',
    indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(message_id, account, folder)
);

CREATE INDEX IF NOT EXISTS idx_emails_account ON emails(account);
CREATE INDEX IF NOT EXISTS idx_emails_folder ON emails(folder);
CREATE INDEX IF NOT EXISTS idx_emails_category ON emails(category);
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date);

-- Full-text search index
CREATE VIRTUAL TABLE IF NOT EXISTS emails_fts USING fts5(
    subject,
    sender,
    recipient,
    body_text,
    content='emails',
    content_rowid='id'
);

-- Triggers for FTS
CREATE TRIGGER IF NOT EXISTS emails_fts_insert AFTER INSERT ON emails BEGIN
    INSERT INTO emails_fts(rowid, subject, sender, recipient, body_text)
    VALUES (new.id, new.subject, new.sender, new.recipient, new.body_text);
END;

-- External-content FTS tables need the old row's values removed with the
-- special 'delete' command before the new values are inserted; a plain
-- UPDATE or DELETE leaves stale term postings behind.
CREATE TRIGGER IF NOT EXISTS emails_fts_update AFTER UPDATE ON emails BEGIN
    INSERT INTO emails_fts(emails_fts, rowid, subject, sender, recipient, body_text)
    VALUES ('delete', old.id, old.subject, old.sender, old.recipient, old.body_text);
    INSERT INTO emails_fts(rowid, subject, sender, recipient, body_text)
    VALUES (new.id, new.subject, new.sender, new.recipient, new.body_text);
END;

CREATE TRIGGER IF NOT EXISTS emails_fts_delete AFTER DELETE ON emails BEGIN
    INSERT INTO emails_fts(emails_fts, rowid, subject, sender, recipient, body_text)
    VALUES ('delete', old.id, old.subject, old.sender, old.recipient, old.body_text);
END;
`
