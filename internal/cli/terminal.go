package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"whatsapp-inbox/internal/format"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/msgsync"
)

const bell = "\a"

// TerminalNotifier prints new messages grouped by day and rings the bell
// once per batch.
type TerminalNotifier struct {
	out   io.Writer
	loc   *time.Location
	now   func() time.Time
	quiet bool

	mu      sync.Mutex
	lastDay string
}

func NewTerminalNotifier(out io.Writer, loc *time.Location, quiet bool) *TerminalNotifier {
	if loc == nil {
		loc = time.Local
	}
	return &TerminalNotifier{out: out, loc: loc, now: time.Now, quiet: quiet}
}

func (n *TerminalNotifier) OnNewMessages(_ context.Context, msgs []models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, g := range format.GroupByDay(msgs, n.now().In(n.loc)) {
		if g.Label != n.lastDay {
			fmt.Fprintf(n.out, "\n── %s ──\n", g.Label)
			n.lastDay = g.Label
		}
		for _, m := range g.Messages {
			fmt.Fprintln(n.out, format.Line(m, n.loc))
		}
	}

	if !n.quiet {
		fmt.Fprint(n.out, bell)
	}
	fmt.Fprintf(n.out, "↓ %d nova(s) mensagem(ns)\n", len(msgs))
}

func (n *TerminalNotifier) OnStatusChange(_ context.Context, st msgsync.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if st.Offline {
		fmt.Fprintf(n.out, "!! sem conexão com o servidor (%d falhas seguidas): %v\n", st.ConsecutiveFailures, st.LastError)
		return
	}
	fmt.Fprintln(n.out, "-- conexão restabelecida")
}

// PrintPending renders an optimistic placeholder line.
func (n *TerminalNotifier) PrintPending(p msgsync.Pending) {
	n.mu.Lock()
	defer n.mu.Unlock()

	mark := map[msgsync.PendingStatus]string{
		msgsync.PendingSending: "enviando…",
		msgsync.PendingSent:    "enviada",
		msgsync.PendingFailed:  "falhou",
	}[p.Status]
	fmt.Fprintf(n.out, "%s [%s] %s (%s)\n", format.Clock(p.CreatedAt, n.loc), format.TypeLabel(models.MessageTypeAdmin), p.Content, mark)
}

func (n *TerminalNotifier) PrintSendError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "!! envio falhou: %v\n", err)
}
