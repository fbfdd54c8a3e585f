package msgsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/observability"
	"whatsapp-inbox/internal/whatsapp"
)

var (
	ErrNoSender        = errors.New("synchronizer has no sender")
	ErrPendingNotFound = errors.New("pending message not found")
)

// Fetcher returns the full current history of a conversation.
type Fetcher interface {
	FetchMessages(ctx context.Context, conversationKey string) ([]models.Message, error)
}

// Sender posts a locally authored message carrying its idempotency key.
type Sender interface {
	SendMessage(ctx context.Context, conversationKey, content, clientMsgID string) (models.Message, error)
}

// Notifier receives the new-message signal. It is only called with a
// non-empty batch, once per batch.
type Notifier interface {
	OnNewMessages(ctx context.Context, msgs []models.Message)
}

type NotifierFunc func(ctx context.Context, msgs []models.Message)

func (f NotifierFunc) OnNewMessages(ctx context.Context, msgs []models.Message) {
	f(ctx, msgs)
}

// StatusNotifier is implemented by notifiers that also want to hear when the
// synchronizer goes offline or recovers.
type StatusNotifier interface {
	OnStatusChange(ctx context.Context, st Status)
}

// IDGenerator hands out ids for optimistic placeholders.
type IDGenerator interface {
	NextID() (uint64, error)
}

type Options struct {
	PollInterval time.Duration
	// OfflineAfter is the number of consecutive failed cycles after which
	// the synchronizer reports itself offline.
	OfflineAfter int
	Sender       Sender
	IDs          IDGenerator
}

// Status is a snapshot of the synchronizer health.
type Status struct {
	State               State
	Watermark           int64
	ConsecutiveFailures int
	LastError           error
	LastSuccess         time.Time
	Offline             bool
}

// Synchronizer keeps a Session in step with the messages endpoint by polling.
type Synchronizer struct {
	session  *Session
	fetcher  Fetcher
	sender   Sender
	notifier Notifier
	ids      IDGenerator
	log      *zap.Logger

	interval     time.Duration
	offlineAfter int
	trigger      chan struct{}

	mu          sync.Mutex
	failures    int
	lastErr     error
	lastSuccess time.Time
}

func New(session *Session, fetcher Fetcher, notifier Notifier, log *zap.Logger, opt Options) (*Synchronizer, error) {
	if session == nil || fetcher == nil {
		return nil, errors.New("session and fetcher are required")
	}
	if opt.PollInterval <= 0 {
		opt.PollInterval = 5 * time.Second
	}
	if opt.OfflineAfter <= 0 {
		opt.OfflineAfter = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, []models.Message) {})
	}
	if opt.IDs == nil {
		sf, err := sonyflake.New(sonyflake.Settings{
			MachineID: func() (uint16, error) { return uint16(os.Getpid()), nil },
		})
		if err != nil {
			return nil, fmt.Errorf("id generator: %w", err)
		}
		opt.IDs = sf
	}

	return &Synchronizer{
		session:      session,
		fetcher:      fetcher,
		sender:       opt.Sender,
		notifier:     notifier,
		ids:          opt.IDs,
		log:          log.With(zap.String("conversation", session.Key())),
		interval:     opt.PollInterval,
		offlineAfter: opt.OfflineAfter,
		trigger:      make(chan struct{}, 1),
	}, nil
}

func (s *Synchronizer) Session() *Session {
	return s.session
}

// Sync runs one fetch and merge cycle. A failed fetch leaves the session
// untouched. A result that arrives after ctx was cancelled or the session
// was closed is discarded.
func (s *Synchronizer) Sync(ctx context.Context) (MergeResult, error) {
	key := s.session.Key()
	ctx, span := otel.Tracer("whatsapp-inbox/msgsync").Start(ctx, "msgsync.sync",
		trace.WithAttributes(attribute.String("conversation", key)))
	defer span.End()

	if s.session.Closed() {
		return MergeResult{Watermark: s.session.Watermark()}, ErrSessionClosed
	}

	fetched, err := s.fetcher.FetchMessages(ctx, key)
	if ctx.Err() != nil {
		observability.IncSyncCycle("discarded")
		return MergeResult{Watermark: s.session.Watermark()}, ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		s.recordFailure(ctx, err)
		return MergeResult{Watermark: s.session.Watermark()}, err
	}

	res, err := s.session.Merge(fetched)
	if err != nil {
		observability.IncSyncCycle("discarded")
		return res, err
	}
	s.recordSuccess(ctx)

	observability.IncSyncCycle("ok")
	observability.AddSyncAppended(len(res.Appended))
	observability.AddSyncReconciled(len(res.Reconciled))
	if res.Watermark > 0 {
		observability.SetSyncWatermark(key, res.Watermark)
	}
	span.SetAttributes(
		attribute.Int("sync.appended", len(res.Appended)),
		attribute.Int("sync.reconciled", len(res.Reconciled)),
		attribute.Int64("sync.watermark", res.Watermark),
	)

	if len(res.Appended) > 0 {
		s.log.Debug("new messages", zap.Int("count", len(res.Appended)), zap.Int64("watermark", res.Watermark))
		s.notifier.OnNewMessages(ctx, res.Appended)
	}
	return res, nil
}

// Run syncs immediately, then on every tick or Trigger until ctx is done.
// The session is closed on return.
func (s *Synchronizer) Run(ctx context.Context) error {
	defer s.session.Close()

	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

// Trigger asks Run for an early cycle. Requests coalesce while one is queued.
func (s *Synchronizer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) runOnce(ctx context.Context) {
	// failures are recorded by Sync; the next tick is the retry
	_, _ = s.Sync(ctx)
}

// Send shows content as an optimistic placeholder and posts it. The
// placeholder is kept, marked failed, when the post fails.
func (s *Synchronizer) Send(ctx context.Context, content string) (Pending, error) {
	if s.sender == nil {
		return Pending{}, ErrNoSender
	}
	localID, err := s.ids.NextID()
	if err != nil {
		return Pending{}, fmt.Errorf("local id: %w", err)
	}

	p := Pending{
		LocalID:     int64(localID),
		ClientMsgID: uuid.NewString(),
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		Status:      PendingSending,
	}
	s.session.AddPending(p)
	return s.post(ctx, p)
}

// Retry re-posts a failed placeholder with its original idempotency key.
func (s *Synchronizer) Retry(ctx context.Context, clientMsgID string) (Pending, error) {
	if s.sender == nil {
		return Pending{}, ErrNoSender
	}
	p, ok := s.session.resend(clientMsgID)
	if !ok {
		return Pending{}, ErrPendingNotFound
	}
	return s.post(ctx, p)
}

func (s *Synchronizer) post(ctx context.Context, p Pending) (Pending, error) {
	msg, err := s.sender.SendMessage(ctx, s.session.Key(), p.Content, p.ClientMsgID)
	if err != nil {
		s.session.FailPending(p.ClientMsgID)
		s.log.Warn("send failed", zap.String("client_msg_id", p.ClientMsgID), zap.Error(err))
		p.Status = PendingFailed
		return p, err
	}

	s.session.ConfirmPending(p.ClientMsgID, msg.ID)
	s.Trigger()
	p.ServerID = msg.ID
	p.Status = PendingSent
	return p, nil
}

func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Synchronizer) statusLocked() Status {
	return Status{
		State:               s.session.State(),
		Watermark:           s.session.Watermark(),
		ConsecutiveFailures: s.failures,
		LastError:           s.lastErr,
		LastSuccess:         s.lastSuccess,
		Offline:             s.failures >= s.offlineAfter,
	}
}

func (s *Synchronizer) recordFailure(ctx context.Context, err error) {
	result := "fetch_failure"
	if errors.Is(err, whatsapp.ErrMalformedResponse) {
		result = "malformed"
	}
	observability.IncSyncCycle(result)

	s.mu.Lock()
	s.failures++
	s.lastErr = err
	wentOffline := s.failures == s.offlineAfter
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Warn("sync failed", zap.String("result", result), zap.Int("consecutive", st.ConsecutiveFailures), zap.Error(err))
	if wentOffline {
		s.notifyStatus(ctx, st)
	}
}

func (s *Synchronizer) recordSuccess(ctx context.Context) {
	s.mu.Lock()
	recovered := s.failures >= s.offlineAfter
	s.failures = 0
	s.lastErr = nil
	s.lastSuccess = time.Now()
	st := s.statusLocked()
	s.mu.Unlock()

	if recovered {
		s.log.Info("sync recovered")
		s.notifyStatus(ctx, st)
	}
}

func (s *Synchronizer) notifyStatus(ctx context.Context, st Status) {
	if sn, ok := s.notifier.(StatusNotifier); ok {
		sn.OnStatusChange(ctx, st)
	}
}
