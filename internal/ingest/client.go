package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/internal/config"
	"github.com/brandon/onebox/pkg/types"
)

// Session is one live connection to the mail server for a single account,
// with its folder already selected.
type Session interface {
	// SearchSince lists UIDs of messages received after since, optionally
	// restricted to unseen ones.
	SearchSince(since time.Time, unseenOnly bool) ([]uint32, error)
	// FetchRaw pulls the full raw bodies for the given UIDs without setting
	// any flags on the server.
	FetchRaw(uids []uint32) ([]*types.RawMessage, error)
	// MarkSeen acknowledges one message on the server.
	MarkSeen(uid uint32) error
	// WaitForUpdate blocks until the server reports new mail, the context is
	// cancelled, or the connection fails.
	WaitForUpdate(ctx context.Context) error
	Close() error
}

// DialFunc opens a Session for an account. The ConnectionManager and
// FetchScheduler are written against it so tests can substitute fakes.
type DialFunc func(ctx context.Context, account *config.AccountConfig) (Session, error)

// IMAPSession implements Session over go-imap.
type IMAPSession struct {
	account *config.AccountConfig
	logger  *logrus.Logger
	c       *client.Client
}

// Dial connects to the account's IMAP server, logs in and selects the
// configured folder.
func Dial(ctx context.Context, account *config.AccountConfig, logger *logrus.Logger) (*IMAPSession, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	dialer := &net.Dialer{Timeout: account.Timeout}

	var cl *client.Client
	var err error
	if account.IMAPTLS {
		cl, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{
			ServerName: account.IMAPHost,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		cl, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(account.IMAPUsername, account.IMAPPassword); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	if _, err := cl.Select(account.Folder, false); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, fmt.Errorf("failed to select folder %s: %w", account.Folder, err)
	}

	logger.WithFields(logrus.Fields{
		"account": account.Name,
		"folder":  account.Folder,
	}).Info("Connected to IMAP server")

	return &IMAPSession{
		account: account,
		logger:  logger,
		c:       cl,
	}, nil
}

// SearchSince lists candidate message UIDs within the trailing window.
func (s *IMAPSession) SearchSince(since time.Time, unseenOnly bool) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	if unseenOnly {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return uids, nil
}

// FetchRaw fetches full message bodies. BODY.PEEK keeps the server from
// marking messages seen as a side effect: acknowledgement stays explicit.
func (s *IMAPSession) FetchRaw(uids []uint32) ([]*types.RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var raws []*types.RawMessage
	for msg := range messages {
		raw := &types.RawMessage{
			SeqNum:       msg.SeqNum,
			UID:          msg.Uid,
			InternalDate: msg.InternalDate,
		}
		if literal := msg.GetBody(section); literal != nil {
			body, err := io.ReadAll(literal)
			if err != nil {
				s.logger.WithError(err).WithField("uid", msg.Uid).Warn("Failed to read message body")
			} else {
				raw.Body = body
			}
		}
		raws = append(raws, raw)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return raws, nil
}

// MarkSeen stores the \Seen flag for one message.
func (s *IMAPSession) MarkSeen(uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := s.c.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	return nil
}

// WaitForUpdate runs IDLE (with the library's poll fallback for servers
// without it) until a mailbox update arrives. Returns nil on new mail, the
// context error on cancellation, or the transport error on failure.
func (s *IMAPSession) WaitForUpdate(ctx context.Context) error {
	updates := make(chan client.Update, 16)
	s.c.Updates = updates
	defer func() { s.c.Updates = nil }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.c.Idle(stop, nil)
	}()

	gotMail := false
	stopped := false
	var ctxErr error
	stopIdle := func() {
		if !stopped {
			close(stop)
			stopped = true
		}
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			stopIdle()
			ctxErr = ctx.Err()
			ctxDone = nil
		case err := <-done:
			// Keep draining updates until Idle has returned, then report.
			if ctxErr != nil {
				return ctxErr
			}
			if gotMail {
				return nil
			}
			// Idle ended on its own only when the connection broke.
			if err == nil {
				err = fmt.Errorf("idle terminated unexpectedly")
			}
			return err
		case upd := <-updates:
			if _, ok := upd.(*client.MailboxUpdate); ok {
				gotMail = true
				stopIdle()
			}
		}
	}
}

// Close logs out of the server.
func (s *IMAPSession) Close() error {
	if s.c != nil {
		err := s.c.Logout()
		s.c = nil
		return err
	}
	return nil
}
