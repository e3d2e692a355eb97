package parse

import (
	"bytes"
	"fmt"
	"net/mail"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/pkg/types"
)

// Defaults applied when a header is absent or unparseable.
const (
	DefaultSubject = "No Subject"
	DefaultAddress = "Unknown"
)

// ParseError marks a message that could not be normalized. It is recoverable:
// the message is skipped for this cycle and left unacknowledged on the server.
type ParseError struct {
	UID    uint32
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse failed for uid %d: %s: %v", e.UID, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse failed for uid %d: %s", e.UID, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser turns raw multipart messages into normalized Email records.
type Parser struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewParser creates a parser.
func NewParser(logger *logrus.Logger) *Parser {
	return &Parser{
		logger: logger,
		now:    time.Now,
	}
}

// Parse normalizes a raw message fetched for the given account and folder.
// Header fields fall back to explicit defaults; a missing or malformed body
// is a ParseError.
func (p *Parser) Parse(raw *types.RawMessage, account, folder string) (*types.Email, error) {
	if raw == nil || len(raw.Body) == 0 {
		return nil, &ParseError{UID: uidOf(raw), Reason: "empty body"}
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, &ParseError{UID: raw.UID, Reason: "malformed message", Err: err}
	}

	if env.Text == "" && env.HTML == "" {
		return nil, &ParseError{UID: raw.UID, Reason: "no text content"}
	}

	date := p.parseDate(env.GetHeader("Date"), raw)

	email := &types.Email{
		MessageID: env.GetHeader("Message-Id"),
		Subject:   headerOrDefault(env.GetHeader("Subject"), DefaultSubject),
		From:      firstAddress(env, "From"),
		To:        firstAddress(env, "To"),
		Date:      date,
		Text:      env.Text,
		HTML:      env.HTML,
		Folder:    folder,
		Account:   account,
		UID:       raw.UID,
		Category:  types.CategoryUncategorized,
	}

	// A missing Message-ID gets a synthesized one so the dedup key stays
	// stable across refetches of the same message.
	if email.MessageID == "" {
		email.MessageID = SynthesizeMessageID(account, raw.UID, date)
	}

	return email, nil
}

// SynthesizeMessageID builds a deterministic identifier from the account,
// server UID and message date.
func SynthesizeMessageID(account string, uid uint32, date time.Time) string {
	return fmt.Sprintf("<%s-%d-%d@synthesized.local>", account, uid, date.Unix())
}

// parseDate parses the Date header, preferring the server's internal date and
// finally the current time when both are unusable.
func (p *Parser) parseDate(header string, raw *types.RawMessage) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t
		}
		p.logger.WithField("date", header).Debug("Unparseable Date header")
	}
	if !raw.InternalDate.IsZero() {
		return raw.InternalDate
	}
	return p.now()
}

// firstAddress extracts the first mailbox from an address header. Multiple
// recipients collapse to the first one.
func firstAddress(env *enmime.Envelope, key string) string {
	addrs, err := env.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return DefaultAddress
	}
	return addrs[0].Address
}

func headerOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func uidOf(raw *types.RawMessage) uint32 {
	if raw == nil {
		return 0
	}
	return raw.UID
}
