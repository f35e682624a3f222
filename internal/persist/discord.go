package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const backupFilename = "campton_market.json"

// DiscordBackend keeps the latest snapshot as a file attachment in a
// dedicated backup channel. The channel outlives the host's ephemeral disk,
// which is why it ranks above the local file on load. Each save deletes the
// previous backup message so the channel holds exactly one record.
type DiscordBackend struct {
	session   *discordgo.Session
	channelID string
	http      *http.Client

	mu            sync.Mutex
	lastMessageID string
}

func NewDiscordBackend(session *discordgo.Session, channelID string) *DiscordBackend {
	return &DiscordBackend{
		session:   session,
		channelID: channelID,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *DiscordBackend) Name() string { return "discord" }

func (d *DiscordBackend) Save(_ context.Context, raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prevID := d.lastMessageID
	if prevID == "" {
		if msg, err := d.latestBackupMessage(); err == nil && msg != nil {
			prevID = msg.ID
		}
	}
	if prevID != "" {
		if err := d.session.ChannelMessageDelete(d.channelID, prevID); err != nil {
			// The old record may already be gone; the new upload still wins.
			prevID = ""
		}
	}

	msg, err := d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("Market backup %s", time.Now().UTC().Format(time.RFC3339)),
		Files: []*discordgo.File{{
			Name:        backupFilename,
			ContentType: "application/json",
			Reader:      bytes.NewReader(raw),
		}},
	})
	if err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}
	d.lastMessageID = msg.ID
	return nil
}

func (d *DiscordBackend) Load(ctx context.Context) ([]byte, error) {
	msg, err := d.latestBackupMessage()
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNoSnapshot
	}

	var url string
	for _, att := range msg.Attachments {
		if att.Filename == backupFilename {
			url = att.URL
			break
		}
	}
	if url == "" {
		return nil, ErrNoSnapshot
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download backup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download backup: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("download backup: %w", err)
	}

	d.mu.Lock()
	d.lastMessageID = msg.ID
	d.mu.Unlock()
	return raw, nil
}

// latestBackupMessage scans recent channel history for the newest message
// carrying the backup attachment.
func (d *DiscordBackend) latestBackupMessage() (*discordgo.Message, error) {
	msgs, err := d.session.ChannelMessages(d.channelID, 25, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("list backup channel: %w", err)
	}
	for _, msg := range msgs {
		for _, att := range msg.Attachments {
			if att.Filename == backupFilename {
				return msg, nil
			}
		}
	}
	return nil, nil
}
