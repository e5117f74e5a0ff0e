package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/alertstore"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/feed"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/notice"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/tenant"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/transport"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// AudioFetcher downloads alert audio. Satisfied by *feed.Client.
type AudioFetcher interface {
	DownloadAudio(ctx context.Context, rawURL string) ([]byte, error)
}

// Deliverer fans a batch of new alerts out to every registered tenant.
// Tenant failures are isolated per tenant; an alert commits to the delivered
// set as soon as at least one tenant accepts it.
type Deliverer struct {
	adapter   transport.Adapter
	audio     AudioFetcher
	registry  *tenant.Registry
	delivered *alertstore.DeliveredSet
	store     alertstore.Store
	limiter   *rate.Limiter
	log       logx.Logger

	sessionPosted atomic.Int64
}

func NewDeliverer(
	adapter transport.Adapter,
	audio AudioFetcher,
	registry *tenant.Registry,
	delivered *alertstore.DeliveredSet,
	store alertstore.Store,
	log logx.Logger,
) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Deliverer{
		adapter:   adapter,
		audio:     audio,
		registry:  registry,
		delivered: delivered,
		store:     store,
		// One alert per second across the whole cycle keeps the platform
		// rate limiter out of the picture.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		log:     log,
	}
}

// SessionPosted reports how many alerts committed since process start.
func (d *Deliverer) SessionPosted() int64 { return d.sessionPosted.Load() }

// DeliverBatch posts each alert to every tenant and returns how many alerts
// committed. The batch is processed in order; a failed alert stays out of
// the delivered set and will be retried next cycle.
func (d *Deliverer) DeliverBatch(ctx context.Context, alerts []feed.Alert) int {
	posted := 0
	for _, a := range alerts {
		if err := d.limiter.Wait(ctx); err != nil {
			return posted
		}
		if d.deliverOne(ctx, a) {
			posted++
		}
	}
	return posted
}

func (d *Deliverer) deliverOne(ctx context.Context, a feed.Alert) bool {
	id := a.Identifier()

	var audio []byte
	if a.AudioURL != "" {
		data, err := d.audio.DownloadAudio(ctx, a.AudioURL)
		if err != nil {
			// The alert still goes out, just without the attachment.
			d.log.Warn("audio download failed, posting without audio",
				logx.String("identifier", id),
				logx.String("url", a.AudioURL),
				logx.Err(err))
		} else {
			audio = data
		}
	}

	n := notice.Render(a, audio, time.Now())

	tenants := d.registry.Snapshot()
	anySuccess := false
	for _, t := range tenants {
		if ctx.Err() != nil {
			break
		}
		if d.deliverToTenant(ctx, t, a, id, n) {
			anySuccess = true
		}
	}

	if !anySuccess {
		d.log.Warn("alert was not posted to any tenant, will retry next cycle",
			logx.String("identifier", id),
			logx.String("type", a.Type),
			logx.Int("tenants", len(tenants)))
		return false
	}

	d.delivered.Add(id)
	if err := d.store.SaveDelivered(d.delivered.Snapshot()); err != nil {
		// Memory already has the id; worst case after a crash is one repost.
		d.log.Error("persisting delivered set failed",
			logx.String("identifier", id),
			logx.Err(err))
	}
	d.sessionPosted.Add(1)
	d.log.Info("alert committed",
		logx.String("identifier", id),
		logx.String("type", a.Type))
	return true
}

func (d *Deliverer) deliverToTenant(ctx context.Context, t tenant.Tenant, a feed.Alert, id string, n *transport.Notice) bool {
	target, err := d.adapter.ResolveTarget(ctx, t.AlertChannelID)
	if err != nil {
		d.log.Warn("alert channel unavailable, skipping tenant",
			logx.String("guild_id", t.GuildID),
			logx.String("channel_id", t.AlertChannelID),
			logx.Err(err))
		return false
	}

	logTarget, hasLog := d.resolveLogTarget(ctx, t)
	if hasLog {
		d.auditf(ctx, logTarget, t.GuildID, "ℹ️ Processing alert: `%s` (ID: `%s`)", a.Type, id)
	}

	if err := d.adapter.SendNotice(ctx, target, n); err != nil {
		switch {
		case errors.Is(err, transport.ErrPermissionDenied):
			d.log.Error("permission denied posting alert, check channel permissions",
				logx.String("guild_id", t.GuildID),
				logx.String("channel", target.Name),
				logx.Err(err))
		default:
			d.log.Error("posting alert failed",
				logx.String("guild_id", t.GuildID),
				logx.String("channel", target.Name),
				logx.Err(err))
		}
		return false
	}

	d.log.Info("alert posted",
		logx.String("guild_id", t.GuildID),
		logx.String("channel", target.Name),
		logx.Bool("audio", len(n.Audio) > 0))

	if hasLog {
		d.auditf(ctx, logTarget, t.GuildID, "✅ Posted: `%s` (ID: `%s`) to #%s", a.Type, id, target.Name)
	}
	return true
}

func (d *Deliverer) resolveLogTarget(ctx context.Context, t tenant.Tenant) (transport.Target, bool) {
	if t.LogChannelID == "" {
		return transport.Target{}, false
	}
	target, err := d.adapter.ResolveTarget(ctx, t.LogChannelID)
	if err != nil {
		d.log.Warn("log channel unavailable",
			logx.String("guild_id", t.GuildID),
			logx.String("channel_id", t.LogChannelID),
			logx.Err(err))
		return transport.Target{}, false
	}
	return target, true
}

// auditf sends a narration line to a tenant's log channel. Failures never
// affect delivery.
func (d *Deliverer) auditf(ctx context.Context, to transport.Target, guildID, format string, args ...any) {
	if err := d.adapter.SendText(ctx, to, fmt.Sprintf(format, args...)); err != nil {
		d.log.Error("log channel send failed",
			logx.String("guild_id", guildID),
			logx.String("channel_id", to.ChannelID),
			logx.Err(err))
	}
}
