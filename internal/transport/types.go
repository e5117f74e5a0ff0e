package transport

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors used to classify delivery failures. Everything else an
// adapter returns is treated as a generic transport error.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrTargetNotFound   = errors.New("target not found")
)

// Target is a resolved delivery destination (a channel the bot can post to).
type Target struct {
	ChannelID string
	Name      string // best-effort, for logs
}

// Notice is a fully rendered alert message: embed-shaped text plus an
// optional audio attachment. It is built once per alert and never mutated
// after creation; adapters must create a fresh attachment reader per send.
type Notice struct {
	Title       string
	Description string
	Color       int
	Fields      []NoticeField
	Footer      string
	Timestamp   time.Time

	Audio     []byte
	AudioName string
}

type NoticeField struct {
	Name   string
	Value  string
	Inline bool
}

// Command describes one slash command exposed by the bot.
type Command struct {
	Name        string
	Description string
	AdminOnly   bool
	// Ephemeral makes replies visible only to the invoking user.
	Ephemeral bool
	Options   []CommandOption
	Handle    func(ctx context.Context, inv *Invocation) error
}

type OptionKind int

const (
	OptionString OptionKind = iota
	OptionChannel
)

type CommandOption struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
}

// Invocation is one command call, already permission-checked by the adapter.
// Option values are raw IDs/strings keyed by option name.
type Invocation struct {
	GuildID  string
	UserID   string
	Username string
	Options  map[string]string

	ReplyText   func(text string, ephemeral bool) error
	ReplyNotice func(n *Notice) error
}

func (inv *Invocation) Respond(text string, ephemeral bool) error {
	if inv == nil || inv.ReplyText == nil {
		return nil
	}
	return inv.ReplyText(text, ephemeral)
}

func (inv *Invocation) RespondNotice(n *Notice) error {
	if inv == nil || inv.ReplyNotice == nil {
		return nil
	}
	return inv.ReplyNotice(n)
}

// Adapter is the chat-platform boundary. The core never talks to the
// platform SDK directly; it resolves targets and sends through this
// interface so delivery outcomes stay classifiable.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// ResolveTarget returns ErrTargetNotFound when the channel is gone or
	// not visible to the bot.
	ResolveTarget(ctx context.Context, channelID string) (Target, error)

	// SendNotice returns ErrPermissionDenied when the platform refuses the
	// post for authorization reasons; other failures are generic.
	SendNotice(ctx context.Context, to Target, n *Notice) error

	// SendText is best-effort narration (audit/log channels).
	SendText(ctx context.Context, to Target, text string) error

	// RegisterCommands installs the slash-command surface. Must be called
	// before Start.
	RegisterCommands(cmds []Command)
}
