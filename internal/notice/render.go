package notice

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/feed"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/transport"
)

const (
	// Discord embed description ceiling; longer translations get cut.
	descriptionLimit = 2000

	DefaultAudioFilename = "alert_audio.mp3"

	// Embed colors, one per surface.
	ColorAlert  = 0xF1C40F // gold
	ColorInfo   = 0x3498DB // blue
	ColorStatus = 0x979C9F // light grey
	ColorHelp   = 0x2ECC71 // green
)

// Render builds the alert notice once per alert. The result is shared across
// every tenant in a cycle; callers must not mutate it.
func Render(a feed.Alert, audio []byte, now time.Time) *transport.Notice {
	eventType := orNA(a.Type)

	desc := a.Translation
	if desc == "" {
		desc = "No description provided."
	}
	// The cap counts characters, not bytes; translations are often
	// non-ASCII and a byte slice could split a rune.
	if r := []rune(desc); len(r) > descriptionLimit {
		desc = string(r[:descriptionLimit]) + "..."
	}

	idNum := "N/A"
	if a.ID != 0 {
		idNum = fmt.Sprintf("%d", a.ID)
	}

	n := &transport.Notice{
		Title:       fmt.Sprintf("📢 Alert: %s 📢", eventType),
		Description: desc,
		Color:       ColorAlert,
		Fields: []transport.NoticeField{
			{Name: "Originator", Value: orNA(a.Originator), Inline: true},
			{Name: "Severity", Value: orNA(a.Severity), Inline: true},
			{Name: "Start Time", Value: FormatTimestamp(a.StartTime), Inline: true},
			{Name: "End Time", Value: FormatTimestamp(a.EndTime), Inline: true},
		},
		Footer:    fmt.Sprintf("ID: %s | Alert: %s", idNum, eventType),
		Timestamp: now,
	}
	if len(audio) > 0 {
		n.Audio = audio
		n.AudioName = AudioFilename(a.AudioURL)
	}
	return n
}

// FormatTimestamp converts an ISO 8601 string into Discord's rich timestamp
// markup. Unparseable strings pass through verbatim so the reader still sees
// something; empty strings become N/A.
func FormatTimestamp(iso string) string {
	iso = strings.TrimSpace(iso)
	if iso == "" {
		return "N/A"
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

// AudioFilename derives an attachment name from the audio URL's last path
// segment, keeping the default when the URL yields nothing usable.
func AudioFilename(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return DefaultAudioFilename
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return DefaultAudioFilename
	}
	return name
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
