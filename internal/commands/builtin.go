package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/internal/identity"
	"github.com/nexuscore/agentruntime/internal/sessions"
)

// Deps is every collaborator a builtin handler may need. Fields are
// optional: a handler whose dependency is nil degrades to a clear error
// rather than panicking, so a partially-wired runtime (e.g. no pairing
// secret configured) still starts.
type Deps struct {
	Sessions *sessions.Store
	Tools    *agentloop.Registry
	Bus      *bus.Bus
	Identity identity.Store
	Pairing  *identity.PairingCoder
}

// RegisterBuiltins registers the fixed verb set spec.md §6 names: help,
// about, clear, tools, status, stop, whoami, link, unlink, space.
//
// Grounded on internal/commands/builtin.go's RegisterBuiltins shape
// (mustRegister-style panic-on-conflict registration, one Command literal
// per verb); handler bodies are new since the teacher's verbs (new, model,
// undo, memory, compact, think) only partially overlap with spec.md §6's
// set and return mock data rather than touching real collaborators.
func RegisterBuiltins(r *Registry, deps Deps) {
	must := func(cmd *Command) {
		if err := r.Register(cmd); err != nil {
			panic(fmt.Sprintf("commands: failed to register builtin %q: %v", cmd.Name, err))
		}
	}

	must(&Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "list available commands",
		Handler:     helpHandler(r),
	})

	must(&Command{
		Name:        "about",
		Description: "describe this agent runtime",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "A multi-user, multi-channel LLM agent runtime. Send /help for commands."}, nil
		},
	})

	must(&Command{
		Name:        "clear",
		Aliases:     []string{"reset"},
		Description: "clear this session's conversation history",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Sessions == nil {
				return nil, fmt.Errorf("session store unavailable")
			}
			if err := deps.Sessions.ClearSession(ctx, inv.SessionID); err != nil {
				return nil, err
			}
			return &Result{Text: "Conversation history cleared."}, nil
		},
	})

	must(&Command{
		Name:        "tools",
		Description: "list tools available to the agent",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Tools == nil {
				return nil, fmt.Errorf("tool registry unavailable")
			}
			names := deps.Tools.Names()
			if len(names) == 0 {
				return &Result{Text: "No tools registered."}, nil
			}
			return &Result{Text: "Available tools:\n" + strings.Join(names, "\n")}, nil
		},
	})

	must(&Command{
		Name:        "status",
		Description: "show this session's status",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Sessions == nil {
				return nil, fmt.Errorf("session store unavailable")
			}
			sess, ok := deps.Sessions.Get(inv.SessionID)
			if !ok {
				return &Result{Text: "No session state yet."}, nil
			}
			summary := "no summary"
			if sess.Summary != nil {
				summary = fmt.Sprintf("%d messages compressed", sess.Summary.CompressedCount)
			}
			return &Result{Text: fmt.Sprintf("Session %s on %s: %d messages in memory, %s.",
				sess.ID, sess.Channel, sess.MessageCount, summary)}, nil
		},
	})

	must(&Command{
		Name:        "stop",
		Aliases:     []string{"abort", "cancel"},
		Description: "cancel this session's in-flight turn",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Bus == nil {
				return nil, fmt.Errorf("bus unavailable")
			}
			deps.Bus.CancelSession(inv.SessionID)
			return &Result{Text: "[Session cancelled]"}, nil
		},
	})

	must(&Command{
		Name:        "whoami",
		Aliases:     []string{"id"},
		Description: "show the identity resolved for this channel",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Identity == nil {
				return &Result{Text: fmt.Sprintf("Channel: %s\nSender: %s", inv.Channel, inv.Sender)}, nil
			}
			user, err := deps.Identity.ResolveOrCreate(ctx, inv.Channel, inv.Sender)
			if err != nil {
				return nil, err
			}
			return &Result{Text: fmt.Sprintf("User ID: %s\nLinked peers:\n%s", user.ID, strings.Join(user.LinkedPeers, "\n"))}, nil
		},
	})

	must(&Command{
		Name:        "link",
		Description: "link this channel identity to another using a pairing code from /whoami's caller",
		Usage:       "/link <code>",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Identity == nil || deps.Pairing == nil {
				return nil, fmt.Errorf("identity linking is not configured")
			}
			code := strings.TrimSpace(inv.Args)
			if code == "" {
				return &Result{Text: "Usage: /link <code>"}, nil
			}
			targetUserID, err := deps.Pairing.Verify(code)
			if err != nil {
				return &Result{Text: "That pairing code is invalid or expired."}, nil
			}
			if err := deps.Identity.LinkPeer(ctx, targetUserID, inv.Channel, inv.Sender); err != nil {
				return nil, err
			}
			return &Result{Text: "This channel is now linked to your other identity."}, nil
		},
	})

	must(&Command{
		Name:        "unlink",
		Description: "unlink this channel from its identity",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Identity == nil {
				return nil, fmt.Errorf("identity linking is not configured")
			}
			user, err := deps.Identity.ResolveByPeer(ctx, inv.Channel, inv.Sender)
			if err != nil {
				return nil, err
			}
			if user == nil {
				return &Result{Text: "This channel is not linked to anything."}, nil
			}
			if err := deps.Identity.UnlinkPeer(ctx, user.ID, inv.Channel, inv.Sender); err != nil {
				return &Result{Text: fmt.Sprintf("Could not unlink: %v", err)}, nil
			}
			return &Result{Text: "This channel has been unlinked."}, nil
		},
	})

	must(&Command{
		Name:        "space",
		Description: "manage the session's shared workspace",
		Usage:       "/space <subcommand>",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			sub := strings.TrimSpace(inv.Args)
			if sub == "" {
				return &Result{Text: "Usage: /space <subcommand>. Try /space status."}, nil
			}
			switch strings.Fields(sub)[0] {
			case "status":
				if deps.Sessions == nil {
					return nil, fmt.Errorf("session store unavailable")
				}
				sess, ok := deps.Sessions.Get(inv.SessionID)
				if !ok || sess.ChannelData == nil {
					return &Result{Text: "No space data for this session."}, nil
				}
				var lines []string
				for k, v := range sess.ChannelData {
					lines = append(lines, fmt.Sprintf("%s: %s", k, v))
				}
				return &Result{Text: strings.Join(lines, "\n")}, nil
			default:
				return &Result{Text: fmt.Sprintf("Unknown /space subcommand %q.", sub)}, nil
			}
		},
	})
}

func helpHandler(r *Registry) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if inv.Args != "" {
			cmd, ok := r.Get(inv.Args)
			if !ok {
				return &Result{Text: fmt.Sprintf("Unknown command /%s.", inv.Args)}, nil
			}
			usage := cmd.Usage
			if usage == "" {
				usage = "/" + cmd.Name
			}
			return &Result{Text: fmt.Sprintf("%s\n%s", usage, cmd.Description)}, nil
		}

		var lines []string
		for _, cmd := range r.All() {
			lines = append(lines, fmt.Sprintf("/%s - %s", cmd.Name, cmd.Description))
		}
		return &Result{Text: "Available commands:\n" + strings.Join(lines, "\n")}, nil
	}
}
