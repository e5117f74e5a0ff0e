package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/transport"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

type Config struct {
	Token string
}

// Adapter bridges the core to Discord via discordgo. It owns the gateway
// session, the slash-command surface, and error classification for sends.
type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session

	runMu   sync.Mutex
	running bool
	runCtx  context.Context

	cmdMu sync.Mutex
	cmds  []kit.Command
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	// Slash commands and channel lookups only; no privileged intents.
	s.Identify.Intents = discordgo.IntentsGuilds

	a := &Adapter{cfg: cfg, log: log, session: s}
	s.AddHandler(a.onReady)
	s.AddHandler(a.onInteraction)
	return a, nil
}

func (a *Adapter) RegisterCommands(cmds []kit.Command) {
	a.cmdMu.Lock()
	a.cmds = append([]kit.Command(nil), cmds...)
	a.cmdMu.Unlock()
}

func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.runCtx = ctx
	a.runMu.Unlock()

	if err := a.session.Open(); err != nil {
		a.runMu.Lock()
		a.running = false
		a.runMu.Unlock()
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	// session.Close can stall on a dead gateway; bound it with the caller's deadline.
	done := make(chan error, 1)
	go func() { done <- a.session.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		a.log.Warn("discord close timed out", logx.Err(ctx.Err()))
		return nil
	}
}

func (a *Adapter) onReady(s *discordgo.Session, r *discordgo.Ready) {
	a.log.Info("logged in",
		logx.String("user", r.User.Username),
		logx.String("user_id", r.User.ID),
		logx.Int("guilds", len(r.Guilds)))

	a.cmdMu.Lock()
	cmds := a.cmds
	a.cmdMu.Unlock()

	appID := r.User.ID
	for _, c := range cmds {
		if _, err := s.ApplicationCommandCreate(appID, "", buildApplicationCommand(c)); err != nil {
			a.log.Error("command registration failed", logx.String("cmd", c.Name), logx.Err(err))
		}
	}
	a.log.Info("slash commands synced", logx.Int("count", len(cmds)))
}

func buildApplicationCommand(c kit.Command) *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        c.Name,
		Description: c.Description,
	}
	if c.AdminOnly {
		perm := int64(discordgo.PermissionAdministrator)
		dm := false
		cmd.DefaultMemberPermissions = &perm
		cmd.DMPermission = &dm
	}
	for _, o := range c.Options {
		opt := &discordgo.ApplicationCommandOption{
			Name:        o.Name,
			Description: o.Description,
			Required:    o.Required,
		}
		switch o.Kind {
		case kit.OptionChannel:
			opt.Type = discordgo.ApplicationCommandOptionChannel
			opt.ChannelTypes = []discordgo.ChannelType{discordgo.ChannelTypeGuildText}
		default:
			opt.Type = discordgo.ApplicationCommandOptionString
		}
		cmd.Options = append(cmd.Options, opt)
	}
	return cmd
}

func (a *Adapter) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	a.cmdMu.Lock()
	var cmd *kit.Command
	for idx := range a.cmds {
		if a.cmds[idx].Name == data.Name {
			cmd = &a.cmds[idx]
			break
		}
	}
	a.cmdMu.Unlock()
	if cmd == nil {
		return
	}

	a.runMu.Lock()
	base := a.runCtx
	a.runMu.Unlock()
	if base == nil {
		base = context.Background()
	}

	// The handler runs off the event goroutine; copy so later
	// RegisterCommands calls can't race it.
	c := *cmd

	// Don't block the gateway event loop on handler work.
	go a.dispatch(base, s, i, c)
}

func (a *Adapter) dispatch(base context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, c kit.Command) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in command handler", logx.String("cmd", c.Name), logx.Any("panic", r))
		}
	}()

	ephemeral := c.Ephemeral

	if c.AdminOnly && !isAdmin(i) {
		_ = respondText(s, i, "You need Administrator permissions to run this command.", true)
		return
	}

	// Ack fast; handlers may fetch the feed or run a full poll cycle.
	deferData := &discordgo.InteractionResponseData{}
	if ephemeral {
		deferData.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: deferData,
	}); err != nil {
		a.log.Warn("interaction ack failed", logx.String("cmd", c.Name), logx.Err(err))
		return
	}

	inv := &kit.Invocation{
		GuildID: i.GuildID,
		Options: optionValues(i.ApplicationCommandData()),
		ReplyText: func(text string, eph bool) error {
			return followupText(s, i, text, eph)
		},
		ReplyNotice: func(n *kit.Notice) error {
			return followupNotice(s, i, n)
		},
	}
	if i.Member != nil && i.Member.User != nil {
		inv.UserID = i.Member.User.ID
		inv.Username = i.Member.User.Username
	} else if i.User != nil {
		inv.UserID = i.User.ID
		inv.Username = i.User.Username
	}

	ctx, cancel := context.WithTimeout(base, 2*time.Minute)
	defer cancel()

	start := time.Now()
	err := c.Handle(ctx, inv)
	if err != nil {
		a.log.Error("command failed",
			logx.String("cmd", c.Name),
			logx.String("guild_id", inv.GuildID),
			logx.String("from", inv.Username),
			logx.Err(err))
		_ = followupText(s, i, "An unexpected error occurred. Check bot logs.", true)
		return
	}
	a.log.Info("command handled",
		logx.String("cmd", c.Name),
		logx.String("guild_id", inv.GuildID),
		logx.String("from", inv.Username),
		logx.Duration("took", time.Since(start)))
}

func optionValues(d discordgo.ApplicationCommandInteractionData) map[string]string {
	out := make(map[string]string, len(d.Options))
	for _, o := range d.Options {
		if o == nil {
			continue
		}
		switch o.Type {
		case discordgo.ApplicationCommandOptionChannel:
			if ch := o.ChannelValue(nil); ch != nil {
				out[o.Name] = ch.ID
			}
		case discordgo.ApplicationCommandOptionString:
			out[o.Name] = o.StringValue()
		default:
			out[o.Name] = fmt.Sprint(o.Value)
		}
	}
	return out
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func respondText(s *discordgo.Session, i *discordgo.InteractionCreate, text string, ephemeral bool) error {
	d := &discordgo.InteractionResponseData{Content: text}
	if ephemeral {
		d.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: d,
	})
}

func followupText(s *discordgo.Session, i *discordgo.InteractionCreate, text string, ephemeral bool) error {
	p := &discordgo.WebhookParams{Content: text}
	if ephemeral {
		p.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := s.FollowupMessageCreate(i.Interaction, true, p)
	return err
}

func followupNotice(s *discordgo.Session, i *discordgo.InteractionCreate, n *kit.Notice) error {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{buildEmbed(n)},
	})
	return err
}

func (a *Adapter) ResolveTarget(ctx context.Context, channelID string) (kit.Target, error) {
	if strings.TrimSpace(channelID) == "" {
		return kit.Target{}, kit.ErrTargetNotFound
	}
	// State cache first; fall back to a REST lookup for channels the
	// gateway hasn't seen yet.
	if ch, err := a.session.State.Channel(channelID); err == nil && ch != nil {
		return kit.Target{ChannelID: ch.ID, Name: ch.Name}, nil
	}
	ch, err := a.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return kit.Target{}, fmt.Errorf("%w: channel %s: %v", kit.ErrTargetNotFound, channelID, err)
	}
	return kit.Target{ChannelID: ch.ID, Name: ch.Name}, nil
}

func (a *Adapter) SendNotice(ctx context.Context, to kit.Target, n *kit.Notice) error {
	msg := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{buildEmbed(n)},
	}
	if len(n.Audio) > 0 {
		// Attachment readers are single-use: build a fresh one per send so
		// the shared Notice stays reusable across tenants.
		msg.Files = []*discordgo.File{{
			Name:        n.AudioName,
			ContentType: "audio/mpeg",
			Reader:      bytes.NewReader(n.Audio),
		}}
	}
	_, err := a.session.ChannelMessageSendComplex(to.ChannelID, msg, discordgo.WithContext(ctx))
	return classifySendErr(err)
}

func (a *Adapter) SendText(ctx context.Context, to kit.Target, text string) error {
	_, err := a.session.ChannelMessageSend(to.ChannelID, text, discordgo.WithContext(ctx))
	return classifySendErr(err)
}

func buildEmbed(n *kit.Notice) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Color,
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if n.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer}
	}
	if !n.Timestamp.IsZero() {
		e.Timestamp = n.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

// classifySendErr maps platform refusals onto the transport sentinels so
// the fan-out can separate "fix your permissions" from transient trouble.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Message != nil {
			switch rerr.Message.Code {
			case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess, discordgo.ErrCodeCannotSendMessagesToThisUser:
				return fmt.Errorf("%w: %s", kit.ErrPermissionDenied, rerr.Message.Message)
			case discordgo.ErrCodeUnknownChannel:
				return fmt.Errorf("%w: %s", kit.ErrTargetNotFound, rerr.Message.Message)
			}
		}
		if rerr.Response != nil && rerr.Response.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: http 403", kit.ErrPermissionDenied)
		}
	}
	return err
}
