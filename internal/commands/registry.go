package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry is a thread-safe, name-and-alias-indexed set of Commands.
//
// Grounded on internal/commands/registry.go's Register/Unregister/Get shape
// and alias-conflict handling from the teacher repository.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Command
	aliases map[string]string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName:  make(map[string]*Command),
		aliases: make(map[string]string),
		logger:  logger.With("component", "commands"),
	}
}

// Register adds a command. An existing name or alias collision is an error
// (unlike the Tool Registry, duplicate commands are a configuration bug,
// not a legitimate hot-reload case).
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || cmd.Name == "" {
		return fmt.Errorf("commands: command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("commands: command %q has no handler", cmd.Name)
	}
	name := strings.ToLower(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("commands: %q already registered", name)
	}
	if existing, exists := r.aliases[name]; exists {
		return fmt.Errorf("commands: %q conflicts with alias for %q", name, existing)
	}

	r.byName[name] = cmd
	for _, alias := range cmd.Aliases {
		alias = strings.ToLower(alias)
		if alias == "" || alias == name {
			continue
		}
		if _, exists := r.byName[alias]; exists {
			r.logger.Warn("alias conflicts with a command name, skipping", "alias", alias, "command", name)
			continue
		}
		if _, exists := r.aliases[alias]; exists {
			r.logger.Warn("alias already registered, skipping", "alias", alias, "command", name)
			continue
		}
		r.aliases[alias] = name
	}
	return nil
}

// Get resolves a command by its name or one of its aliases.
func (r *Registry) Get(name string) (*Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.byName[name]; ok {
		return cmd, true
	}
	if real, ok := r.aliases[name]; ok {
		cmd, ok := r.byName[real]
		return cmd, ok
	}
	return nil, false
}

// All returns every registered command, sorted by name, for /help listing.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.byName))
	for _, cmd := range r.byName {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch parses text and, if it matches a registered command, runs its
// handler. ok is false if text was not a command at all; a recognised-but-
// unregistered verb still returns ok=true with a *Result carrying the
// unknown-command message, per spec.md §6. userID is the resolved canonical
// identity; sender is the raw channel-native sender the transport reported
// (see Invocation.Sender) — identity commands key off the latter.
func (r *Registry) Dispatch(ctx context.Context, text, sessionID, channel, userID, sender string) (result *Result, ok bool) {
	parsed, isCommand := Parse(text)
	if !isCommand {
		return nil, false
	}

	cmd, found := r.Get(parsed.Name)
	if !found {
		return &Result{Text: fmt.Sprintf("Unknown command /%s. Try /help for a list of commands.", parsed.Name)}, true
	}

	inv := &Invocation{
		Command:   cmd,
		Name:      parsed.Name,
		Args:      parsed.Args,
		RawText:   text,
		SessionID: sessionID,
		Channel:   channel,
		UserID:    userID,
		Sender:    sender,
	}
	res, err := cmd.Handler(ctx, inv)
	if err != nil {
		return &Result{Text: fmt.Sprintf("❌ %v", err)}, true
	}
	return res, true
}
