package msgsync

import (
	"errors"
	"sync"
	"time"

	"whatsapp-inbox/internal/models"
)

// ErrSessionClosed is returned for work that completes after the session was
// torn down. Its results are discarded.
var ErrSessionClosed = errors.New("session closed")

// State is the lifecycle of a conversation session. It only moves forward.
type State int

const (
	StateBootstrapping State = iota
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateSynced:
		return "synced"
	}
	return "unknown"
}

type PendingStatus string

const (
	PendingSending PendingStatus = "sending"
	PendingSent    PendingStatus = "sent"
	PendingFailed  PendingStatus = "failed"
)

// Pending is an optimistic placeholder for a locally authored message that
// the server has not yet returned in a fetched history.
type Pending struct {
	LocalID     int64
	ClientMsgID string
	ServerID    int64 // known once the send call returned
	Content     string
	CreatedAt   time.Time
	Status      PendingStatus
}

func (p Pending) matches(m models.Message) bool {
	if m.ClientMsgID != nil && *m.ClientMsgID == p.ClientMsgID {
		return true
	}
	return p.ServerID != 0 && p.ServerID == m.ID
}

// MergeResult reports what a merge added to the session.
type MergeResult struct {
	// Appended holds messages new to this session, in fetch order. Only these
	// raise the new-message signal.
	Appended []models.Message
	// Reconciled holds server records that replaced a pending placeholder.
	Reconciled []models.Message
	// Watermark is the highest incorporated id after the merge, 0 while unset.
	Watermark int64
}

// Changed reports whether the merge modified local state.
func (r MergeResult) Changed() bool {
	return len(r.Appended) > 0 || len(r.Reconciled) > 0
}

// Session holds the local state of one conversation view. Server ids are
// positive, so a zero watermark means unset.
type Session struct {
	mu        sync.Mutex
	key       string
	messages  []models.Message
	ids       map[int64]struct{}
	watermark int64
	state     State
	pending   []Pending
	closed    bool
}

// NewSession starts a session for conversationKey, optionally seeded with
// messages the view already shows. Seeding does not set the watermark.
func NewSession(conversationKey string, initial ...models.Message) *Session {
	s := &Session{
		key: conversationKey,
		ids: make(map[int64]struct{}, len(initial)),
	}
	for _, m := range initial {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	return s
}

func (s *Session) Key() string {
	return s.key
}

// Messages returns a copy of the confirmed local messages.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pending returns a copy of the optimistic placeholders still shown.
func (s *Session) Pending() []Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pending, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *Session) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the session down; later merges are rejected.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Merge incorporates a fetched history. Messages with an id above the
// reference (the watermark, else the highest local id) that are not already
// held are appended in fetch order; the watermark then moves to the highest
// fetched id. A fetch adding nothing leaves the messages untouched. The first
// merge sets an unset watermark from the messages held, so a synced session
// with local messages always has one.
func (s *Session) Merge(fetched []models.Message) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return MergeResult{Watermark: s.watermark}, ErrSessionClosed
	}
	s.state = StateSynced

	reference := s.watermark
	if reference == 0 {
		reference = s.maxLocalID()
	}

	var (
		res        MergeResult
		maxFetched int64
		batch      = make(map[int64]struct{})
	)
	for _, m := range fetched {
		if m.ID > maxFetched {
			maxFetched = m.ID
		}
		if m.ID <= reference {
			continue
		}
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		if _, ok := batch[m.ID]; ok {
			continue
		}
		batch[m.ID] = struct{}{}

		if s.takePending(m) {
			res.Reconciled = append(res.Reconciled, m)
		} else {
			res.Appended = append(res.Appended, m)
		}
		s.messages = append(s.messages, m)
		s.ids[m.ID] = struct{}{}
	}

	if res.Changed() && maxFetched > s.watermark {
		s.watermark = maxFetched
	}
	if s.watermark == 0 {
		s.watermark = s.maxLocalID()
	}
	res.Watermark = s.watermark
	return res, nil
}

// AddPending shows an optimistic placeholder.
func (s *Session) AddPending(p Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, p)
}

// ConfirmPending records the server id returned for a sent placeholder. The
// placeholder stays until a fetch returns the record.
func (s *Session) ConfirmPending(clientMsgID string, serverID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].ClientMsgID != clientMsgID {
			continue
		}
		if _, ok := s.ids[serverID]; ok {
			// a fetch already delivered the record
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
		s.pending[i].ServerID = serverID
		s.pending[i].Status = PendingSent
		return true
	}
	return false
}

// FailPending marks a placeholder whose send failed.
func (s *Session) FailPending(clientMsgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].ClientMsgID == clientMsgID {
			s.pending[i].Status = PendingFailed
			return true
		}
	}
	return false
}

func (s *Session) resend(clientMsgID string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].ClientMsgID == clientMsgID && s.pending[i].Status == PendingFailed {
			s.pending[i].Status = PendingSending
			return s.pending[i], true
		}
	}
	return Pending{}, false
}

func (s *Session) takePending(m models.Message) bool {
	for i, p := range s.pending {
		if p.matches(m) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) maxLocalID() int64 {
	var max int64
	for _, m := range s.messages {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}
