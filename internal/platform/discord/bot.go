package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/modgate/internal/moderation"
)

// Ingest receives gateway message events. The collector and history cache
// both satisfy it.
type Ingest interface {
	Enqueue(msg moderation.Message)
	Remove(channelID, messageID string)
	Update(msg moderation.Message)
}

// Bot owns the gateway session: it feeds guild message events into the
// moderation pipeline and exposes the session to the platform adapter.
type Bot struct {
	session   *discordgo.Session
	ingest    Ingest
	history   *moderation.HistoryCache
	botUserID string
}

func NewBot(token string, ingest Ingest, history *moderation.HistoryCache) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	// REST works before the gateway opens, so the identity is known to every
	// collaborator built between NewBot and Start.
	user, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("fetch discord bot identity: %w", err)
	}

	return &Bot{session: session, ingest: ingest, history: history, botUserID: user.ID}, nil
}

// Session exposes the underlying gateway session for the platform adapter.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// BotUserID is the bot's own user id, resolved at construction.
func (b *Bot) BotUserID() string {
	return b.botUserID
}

// Start opens the gateway connection and begins receiving events.
func (b *Bot) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	b.session.AddHandler(b.handleMessageCreate)
	b.session.AddHandler(b.handleMessageDelete)
	b.session.AddHandler(b.handleMessageUpdate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	slog.Info("discord bot connected", "id", b.botUserID)
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	return b.session.Close()
}

// toMessage converts a gateway message to the pipeline's value type.
// Attachments are hashed by URL at ingest; content resolution happens later,
// at most once per round.
func toMessage(m *discordgo.Message) moderation.Message {
	msg := moderation.Message{
		ID:        m.ID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, moderation.AttachmentRef{
			Hash: moderation.AttachmentHashFromURL(att.URL),
			URL:  att.URL,
		})
	}
	return msg
}

func (b *Bot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == b.botUserID {
		return
	}
	// DMs are not moderated.
	if m.GuildID == "" {
		return
	}
	b.ingest.Enqueue(toMessage(m.Message))
}

func (b *Bot) handleMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.GuildID == "" {
		return
	}
	b.ingest.Remove(m.ChannelID, m.ID)
	if b.history != nil {
		b.history.Remove(m.ChannelID, m.ID)
	}
}

func (b *Bot) handleMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return
	}
	b.ingest.Update(toMessage(m.Message))
}

// FetchAttachment downloads attachment content, used as the pipeline's
// AttachmentFetcher.
func FetchAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create attachment request: %w", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: HTTP %d", resp.StatusCode)
	}
	// CDN attachments can be large; cap what goes to the model.
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
