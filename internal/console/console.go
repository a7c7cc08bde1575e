// Package console is the interactive command line for placing, answering
// and ending calls and for viewing the live transcript.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/M1TCH3llM/VideoChat/internal/api"
	"github.com/M1TCH3llM/VideoChat/internal/call"
	"github.com/M1TCH3llM/VideoChat/internal/transcript"
)

// Calls is the call control surface used by the console.
type Calls interface {
	PlaceCall(ctx context.Context, peer string) error
	Answer(ctx context.Context) error
	Hangup(ctx context.Context) error
	Snapshot() call.Session
}

// Console reads commands and prints call notices.
type Console struct {
	self       string
	calls      Calls
	transcript *transcript.Buffer
	logger     *slog.Logger

	mu  sync.Mutex // guards out
	out io.Writer
}

// New creates a console for the logged-in user self.
func New(self string, calls Calls, buf *transcript.Buffer, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		self:       self,
		calls:      calls,
		transcript: buf,
		out:        out,
		logger:     logger,
	}
}

// OnCallEvent prints the notice for a call event.
func (c *Console) OnCallEvent(e call.Event) {
	if e.Notice != "" {
		c.printf("* %s\n", e.Notice)
	}
}

// Run reads commands from in until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("Logged in as %s. Type 'help' for commands.\n", c.self)
	c.prompt()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			c.printf("\nGoodbye!\n")
			return nil
		case line := <-lines:
			if c.Execute(ctx, line) {
				c.printf("Goodbye!\n")
				return nil
			}
			c.prompt()
		}
	}
}

// Execute runs one command line and reports whether the user asked to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "call", "ring":
		peer := ""
		if len(fields) > 1 {
			peer = fields[1]
		}
		if err := c.calls.PlaceCall(ctx, peer); err != nil {
			c.reportError("call", err)
		}
	case "answer":
		if err := c.calls.Answer(ctx); err != nil {
			c.reportError("answer", err)
		}
	case "hangup", "end":
		if err := c.calls.Hangup(ctx); err != nil {
			c.reportError("hangup", err)
		}
	case "status":
		c.printStatus()
	case "transcript":
		c.printTranscript()
	case "help":
		c.printHelp()
	case "quit", "exit":
		return true
	default:
		c.printf("Unknown command %q. Type 'help' for commands.\n", cmd)
	}
	return false
}

func (c *Console) reportError(action string, err error) {
	c.logger.Debug("Console command failed",
		slog.String("action", action),
		slog.String("error", err.Error()))

	switch {
	case errors.Is(err, call.ErrInvalidPeer), errors.Is(err, call.ErrSelfCall):
		c.printf("Please enter a valid username to call.\n")
	case errors.Is(err, call.ErrNoIncomingCall):
		c.printf("Error: You cannot answer a call you initiated.\n")
	case errors.Is(err, call.ErrCallInProgress):
		c.printf("Error: A call is already in progress.\n")
	case api.IsUnauthorized(err):
		c.printf("Error: Your session has expired. Please restart and log in again.\n")
	default:
		c.printf("Error during %s: %v\n", action, err)
	}
}

func (c *Console) printStatus() {
	s := c.calls.Snapshot()
	if s.Status == call.StatusIdle {
		c.printf("Status: Idle (logged in as %s)\n", c.self)
		return
	}
	c.printf("Status: %s, %s with %s (call %s)\n", s.Status, s.Role, s.Peer, s.CallID)
	if s.RemoteMirrored {
		c.printf("Remote view: mirroring local capture\n")
	}
}

func (c *Console) printTranscript() {
	text := c.transcript.Text()
	if text == "" {
		c.printf("Transcript: (empty)\n")
		return
	}
	c.printf("Transcript: %s\n", text)
}

func (c *Console) printHelp() {
	c.printf(`Commands:
  call <user>   ring another user
  answer        answer the incoming call
  hangup        end the current call
  status        show the call status
  transcript    show the live transcript
  quit          exit
`)
}

func (c *Console) prompt() {
	c.printf("> ")
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
