package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// TerminalAdapter is a zero-dependency adapter for local runs: it reads
// lines from an input stream as inbound messages and writes replies to an
// output stream. Useful for cmd/nexus's interactive mode and for tests that
// don't want to stand up a real transport.
type TerminalAdapter struct {
	sessionID string
	in        *bufio.Scanner
	out       io.Writer
	messages  chan *models.InboundMessage

	mu        sync.Mutex
	cancel    context.CancelFunc
	connected bool
}

// NewTerminalAdapter creates a terminal adapter reading from in and writing
// replies to out, all attributed to a single fixed session.
func NewTerminalAdapter(sessionID string, in io.Reader, out io.Writer) *TerminalAdapter {
	return &TerminalAdapter{
		sessionID: sessionID,
		in:        bufio.NewScanner(in),
		out:       out,
		messages:  make(chan *models.InboundMessage, 10),
	}
}

func (a *TerminalAdapter) Type() string { return "terminal" }

func (a *TerminalAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return fmt.Errorf("channels: terminal: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.connected = true
	a.mu.Unlock()

	go a.readLoop(runCtx)
	return nil
}

func (a *TerminalAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	a.cancel()
	a.connected = false
	return nil
}

func (a *TerminalAdapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	_, err := fmt.Fprintln(a.out, msg.Text)
	return err
}

func (a *TerminalAdapter) Messages() <-chan *models.InboundMessage { return a.messages }

func (a *TerminalAdapter) readLoop(ctx context.Context) {
	defer close(a.messages)
	for a.in.Scan() {
		line := a.in.Text()
		if line == "" {
			continue
		}
		msg := &models.InboundMessage{
			Channel:   "terminal",
			SessionID: a.sessionID,
			Text:      line,
			Sender:    "local",
			Timestamp: time.Now(),
		}
		select {
		case a.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}
