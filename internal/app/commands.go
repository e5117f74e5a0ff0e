package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/alertstore"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/notice"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/poller"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/transport"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// Cap on alerts listed by /alerts before "and N more".
const maxAlertsToShow = 10

func (a *App) commands() []transport.Command {
	return []transport.Command{
		{
			Name:        "setup",
			Description: "Configure the alert and log channels for THIS server.",
			AdminOnly:   true,
			Ephemeral:   true,
			Options: []transport.CommandOption{
				{Name: "alerts_channel", Description: "The text channel where EAS alerts should be posted.", Kind: transport.OptionChannel, Required: true},
				{Name: "logs_channel", Description: "Optional: the text channel for status/success logs.", Kind: transport.OptionChannel},
			},
			Handle: a.handleSetup,
		},
		{
			Name:        "fetch",
			Description: "Manually trigger an immediate check for new alerts.",
			AdminOnly:   true,
			Ephemeral:   true,
			Handle:      a.handleFetch,
		},
		{
			Name:        "alerts",
			Description: "Show currently active alerts reported by the API.",
			Handle:      a.handleAlerts,
		},
		{
			Name:        "config",
			Description: "Show the current alert/log channel config for this server.",
			AdminOnly:   true,
			Ephemeral:   true,
			Handle:      a.handleConfig,
		},
		{
			Name:        "status",
			Description: "Show bot status and statistics.",
			Handle:      a.handleStatus,
		},
		{
			Name:        "help",
			Description: "Shows information about available commands.",
			Ephemeral:   true,
			Handle:      a.handleHelp,
		},
	}
}

func (a *App) handleSetup(ctx context.Context, inv *transport.Invocation) error {
	if inv.GuildID == "" {
		return inv.Respond("❌ This command can only be used within a server.", true)
	}
	alertCh := inv.Options["alerts_channel"]
	logCh := inv.Options["logs_channel"]
	if alertCh == "" {
		return inv.Respond("❌ An alerts channel is required.", true)
	}

	// Resolve up front so a typo'd or invisible channel fails loudly here
	// instead of silently during the next cycle.
	target, err := a.adapter.ResolveTarget(ctx, alertCh)
	if err != nil {
		return inv.Respond("❌ I cannot see that alerts channel. Check my permissions and try again.", true)
	}
	if logCh != "" {
		if _, err := a.adapter.ResolveTarget(ctx, logCh); err != nil {
			return inv.Respond("❌ I cannot see that logs channel. Check my permissions and try again.", true)
		}
	}

	if err := a.registry.Set(inv.GuildID, alertstore.TenantConfig{
		AlertChannelID: alertCh,
		LogChannelID:   logCh,
	}); err != nil {
		return fmt.Errorf("register tenant: %w", err)
	}

	a.log.Info("tenant configured",
		logx.String("guild_id", inv.GuildID),
		logx.String("by", inv.Username),
		logx.String("alert_channel", alertCh),
		logx.String("log_channel", logCh))

	logLine := "Log channel **not set**."
	if logCh != "" {
		logLine = fmt.Sprintf("Log channel set to <#%s> (`%s`).", logCh, logCh)
	}
	return inv.Respond(fmt.Sprintf(
		"✅ Configuration updated!\n🔹 Alerts channel: <#%s> (`%s`, #%s).\n🔹 %s",
		alertCh, alertCh, target.Name, logLine), true)
}

func (a *App) handleFetch(ctx context.Context, inv *transport.Invocation) error {
	a.log.Info("manual fetch triggered",
		logx.String("guild_id", inv.GuildID),
		logx.String("by", inv.Username))

	// A cycle runs to completion once started; the interaction deadline
	// bounds only the reply, not the deliveries.
	err := a.poller.TriggerNow(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, poller.ErrBusy):
		return inv.Respond("⚠️ A check is already in progress. Try again shortly.", true)
	case err != nil:
		return fmt.Errorf("manual check: %w", err)
	}
	return inv.Respond("✅ Manual alert check complete. New alerts (if any) have been processed.", true)
}

func (a *App) handleAlerts(ctx context.Context, inv *transport.Invocation) error {
	alerts := a.feed.FetchActiveAlerts(ctx)
	if len(alerts) == 0 {
		return inv.Respond("ℹ️ No active alerts found from the GlobalEAS API right now.", false)
	}

	n := &transport.Notice{
		Title:       fmt.Sprintf("🚨 Currently Active Alerts (%d found)", len(alerts)),
		Description: fmt.Sprintf("Showing the first %d active alerts from GlobalEAS API:", maxAlertsToShow),
		Color:       notice.ColorInfo,
		Footer:      "Source: alerts.globaleas.org",
		Timestamp:   time.Now().UTC(),
	}
	for i, alert := range alerts {
		if i >= maxAlertsToShow {
			n.Description += fmt.Sprintf("\n...and %d more.", len(alerts)-i)
			break
		}
		hash := alert.Hash
		if hash == "" {
			hash = "N/A"
		}
		n.Fields = append(n.Fields, transport.NoticeField{
			Name:  fmt.Sprintf("%d. %s (%s)", i+1, orNA(alert.Type), orNA(alert.Severity)),
			Value: fmt.Sprintf("Originator: %s\nHash: `%s`", orNA(alert.Originator), hash),
		})
	}
	return inv.RespondNotice(n)
}

func (a *App) handleConfig(_ context.Context, inv *transport.Invocation) error {
	if inv.GuildID == "" {
		return inv.Respond("❌ This command can only be used within a server.", true)
	}
	cfg, ok := a.registry.Get(inv.GuildID)
	if !ok || cfg.AlertChannelID == "" {
		return inv.Respond("⚠️ No configuration found for this server. Use `/setup` to configure.", true)
	}
	logLine := "**Not Set**"
	if cfg.LogChannelID != "" {
		logLine = fmt.Sprintf("<#%s> (`%s`)", cfg.LogChannelID, cfg.LogChannelID)
	}
	return inv.Respond(fmt.Sprintf(
		"ℹ️ Current configuration:\n🔹 Alert Channel: <#%s> (`%s`)\n🔹 Log Channel: %s",
		cfg.AlertChannelID, cfg.AlertChannelID, logLine), true)
}

func (a *App) handleStatus(_ context.Context, inv *transport.Invocation) error {
	stats := a.poller.Stats()
	n := &transport.Notice{
		Title: "📊 Bot Status",
		Color: notice.ColorStatus,
		Fields: []transport.NoticeField{
			{Name: "Uptime", Value: formatUptime(time.Since(a.startTime)), Inline: true},
			{Name: "Configured Servers", Value: fmt.Sprintf("%d", a.registry.Count()), Inline: true},
			{Name: "Alerts Posted (Session)", Value: fmt.Sprintf("%d", a.deliverer.SessionPosted()), Inline: true},
			{Name: "Check Cycles", Value: fmt.Sprintf("%d", stats.Cycles), Inline: true},
			{Name: "Known Alert IDs", Value: fmt.Sprintf("%d", stats.DeliveredSize), Inline: true},
		},
		Timestamp: time.Now().UTC(),
	}
	if !stats.LastCycleAt.IsZero() {
		n.Fields = append(n.Fields, transport.NoticeField{
			Name:   "Last Check",
			Value:  fmt.Sprintf("<t:%d:R>", stats.LastCycleAt.Unix()),
			Inline: true,
		})
	}
	return inv.RespondNotice(n)
}

func (a *App) handleHelp(_ context.Context, inv *transport.Invocation) error {
	n := &transport.Notice{
		Title:       "GlobalEAS Bot Help",
		Description: "Commands for receiving Emergency Alert System notifications.",
		Color:       notice.ColorHelp,
		Fields: []transport.NoticeField{
			{Name: "/setup `alerts_channel` `[logs_channel]`", Value: "(Admin Only) Sets alert/log channels **for the current server**."},
			{Name: "/fetch", Value: "(Admin Only) Manually triggers an immediate check for new alerts."},
			{Name: "/alerts", Value: "Displays a summary of currently active alerts found via the API."},
			{Name: "/config", Value: "(Admin Only) Shows the current alert/log channel config for this server."},
			{Name: "/status", Value: "Shows bot uptime and basic statistics."},
		},
		Footer: "Run /setup in each server where you want alerts.",
	}
	return inv.RespondNotice(n)
}

func formatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
