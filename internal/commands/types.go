// Package commands implements the `/`-prefixed command surface (spec.md
// §6): detection, parsing, a name/alias registry, and the fixed verb set
// the core handles (help, about, clear, tools, status, stop, whoami, link,
// unlink, space).
//
// Grounded on internal/commands/types.go, parser.go, registry.go, and
// builtin.go from the teacher repository, trimmed from a general-purpose,
// multi-prefix, inline-command-aware system to the narrower leading-"/"-only
// contract spec.md §6 actually specifies.
package commands

import "context"

// Command is a single registered verb.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler executes a parsed invocation and produces a Result.
type CommandHandler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation is a single parsed command, ready for its Handler.
type Invocation struct {
	Command   *Command
	Name      string
	Args      string
	RawText   string
	SessionID string
	Channel   string

	// UserID is the resolved canonical identity (from the identity store),
	// suitable for display or for keying anything that isn't itself an
	// identity-store peer lookup.
	UserID string

	// Sender is the raw, channel-native sender (e.g. a Telegram chat ID),
	// exactly as the transport reported it. Handlers that call into
	// identity.Store (ResolveOrCreate, LinkPeer, UnlinkPeer, ResolveByPeer)
	// must key off Sender, not UserID — those calls re-derive the canonical
	// ID from (Channel, Sender) themselves.
	Sender string
}

// Result is a command's user-facing outcome.
type Result struct {
	// Text is the reply sent back to the originating channel.
	Text string

	// Suppress indicates no reply should be sent at all (distinct from an
	// empty Text, which still sends a blank line).
	Suppress bool
}

// ParsedCommand is the raw detection output before a Command is looked up.
type ParsedCommand struct {
	Name string
	Args string
}
