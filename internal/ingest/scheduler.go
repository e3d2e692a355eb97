package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/internal/config"
	"github.com/brandon/onebox/pkg/types"
)

// recentCacheSize bounds the per-account cache of UIDs already processed in
// this session.
const recentCacheSize = 512

// MessageParser normalizes a raw message.
type MessageParser interface {
	Parse(raw *types.RawMessage, account, folder string) (*types.Email, error)
}

// Labeler assigns a category. It never fails; degraded classification falls
// back internally.
type Labeler interface {
	Classify(ctx context.Context, text, html string) types.ClassificationResult
}

// DocumentWriter persists a categorized email idempotently.
type DocumentWriter interface {
	Upsert(ctx context.Context, email *types.Email) error
}

// Notifier fires best-effort alerts for trigger categories.
type Notifier interface {
	Dispatch(ctx context.Context, email *types.Email)
}

// Scheduler drives fetch cycles: search the trailing window, fetch raw
// bodies, and run each message through parse, classify, index and notify.
// A message is acknowledged on the server only after its index write
// succeeded, so anything that fails is reprocessed on a later cycle.
type Scheduler struct {
	dial       DialFunc
	parser     MessageParser
	labeler    Labeler
	writer     DocumentWriter
	notifier   Notifier
	logger     *logrus.Logger
	lookback   time.Duration
	unseenOnly bool

	// baseCtx drives triggered cycles. It is independent of the callers'
	// contexts so in-flight cycles can drain past a shutdown signal; Drain
	// cancels it when the grace period runs out.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	states map[string]*accountState
	wg     sync.WaitGroup
}

// accountState serializes cycles per account. An event arriving mid-cycle
// sets pending instead of starting a concurrent cycle.
type accountState struct {
	running bool
	pending bool
	recent  *lru.Cache[uint32, struct{}]
}

// NewScheduler creates a scheduler wired to the pipeline stages.
func NewScheduler(dial DialFunc, parser MessageParser, labeler Labeler, writer DocumentWriter, notifier Notifier, cfg *config.Config, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		dial:       dial,
		parser:     parser,
		labeler:    labeler,
		writer:     writer,
		notifier:   notifier,
		logger:     logger,
		lookback:   time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		unseenOnly: cfg.UnseenOnly,
		baseCtx:    ctx,
		cancel:     cancel,
		states:     make(map[string]*accountState),
	}
}

func (s *Scheduler) state(account string) *accountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[account]
	if !ok {
		cache, _ := lru.New[uint32, struct{}](recentCacheSize)
		st = &accountState{recent: cache}
		s.states[account] = st
	}
	return st
}

// Trigger requests a fetch cycle for the account. At most one cycle runs per
// account at a time; triggering while one is running coalesces into a single
// rerun after it finishes. The cycle runs on the scheduler's own context, so
// it outlives the triggering caller and drains under Drain's grace period.
func (s *Scheduler) Trigger(account *config.AccountConfig) {
	st := s.state(account.Name)

	s.mu.Lock()
	if st.running {
		st.pending = true
		s.mu.Unlock()
		return
	}
	st.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			result, err := s.RunCycle(s.baseCtx, account)
			entry := s.logger.WithFields(logrus.Fields{
				"account":   account.Name,
				"processed": result.Processed,
				"skipped":   result.Skipped,
				"failed":    result.Failed,
			})
			if err != nil {
				entry.WithError(err).Warn("Fetch cycle failed")
			} else {
				entry.Info("Fetch cycle complete")
			}

			s.mu.Lock()
			if st.pending && s.baseCtx.Err() == nil {
				st.pending = false
				s.mu.Unlock()
				continue
			}
			st.running = false
			s.mu.Unlock()
			return
		}
	}()
}

// RunCycle performs one fetch cycle for the account. It dials its own
// short-lived session so listening connections never block on fetch work.
func (s *Scheduler) RunCycle(ctx context.Context, account *config.AccountConfig) (types.CycleResult, error) {
	var result types.CycleResult
	st := s.state(account.Name)

	log := s.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"cycle":   uuid.NewString()[:8],
	})

	sess, err := s.dial(ctx, account)
	if err != nil {
		return result, fmt.Errorf("failed to open fetch session: %w", err)
	}
	defer sess.Close()

	since := time.Now().Add(-s.lookback)
	uids, err := sess.SearchSince(since, s.unseenOnly)
	if err != nil {
		return result, fmt.Errorf("search failed: %w", err)
	}
	if len(uids) == 0 {
		return result, nil
	}

	raws, err := sess.FetchRaw(uids)
	if err != nil {
		return result, fmt.Errorf("fetch failed: %w", err)
	}

	for _, raw := range raws {
		if ctx.Err() != nil {
			// Shutdown mid-cycle: remaining messages stay unacknowledged and
			// are reprocessed later.
			return result, ctx.Err()
		}
		if _, ok := st.recent.Get(raw.UID); ok {
			result.Skipped++
			continue
		}

		email, err := s.parser.Parse(raw, account.Name, account.Folder)
		if err != nil {
			// Recoverable per-message failure: skip without acknowledging.
			log.WithError(err).WithField("uid", raw.UID).Warn("Skipping unparseable message")
			result.Skipped++
			continue
		}

		classification := s.labeler.Classify(ctx, email.Text, email.HTML)
		email.Category = classification.Label

		if err := s.writer.Upsert(ctx, email); err != nil {
			log.WithError(err).WithField("uid", raw.UID).Error("Index write failed, message left unacknowledged")
			result.Failed++
			continue
		}

		// Notifications fire only after the document is safely indexed.
		s.notifier.Dispatch(ctx, email)

		if err := sess.MarkSeen(raw.UID); err != nil {
			// The document is indexed; a failed ack only means one redundant
			// reprocess, which the idempotent upsert absorbs.
			log.WithError(err).WithField("uid", raw.UID).Warn("Failed to acknowledge message")
		}
		st.recent.Add(raw.UID, struct{}{})
		result.Processed++
	}

	return result, nil
}

// Drain waits for in-flight cycles to finish, up to the grace period, then
// cancels the cycle context. Returns false when cycles were abandoned.
func (s *Scheduler) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return true
	case <-time.After(grace):
		s.cancel()
		return false
	}
}
