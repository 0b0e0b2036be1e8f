package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"signalcollector/internal/config"
)

// Discord delivers guild channel messages to a Handler and re-fetches them for
// the checker. Channel ids are Discord snowflakes stored as int64.
type Discord struct {
	session  *discordgo.Session
	channels map[string]struct{}
	guildID  string
	logger   *zap.Logger

	mu      sync.RWMutex
	ctx     context.Context
	handler Handler
}

func NewDiscord(cfg config.DiscordConfig, logger *zap.Logger) (*Discord, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	d := &Discord{
		session:  session,
		channels: map[string]struct{}{},
		guildID:  strings.TrimSpace(cfg.GuildID),
		logger:   logger.With(zap.String("component", "discord")),
		ctx:      context.Background(),
	}
	for _, id := range cfg.ChannelIDs {
		if id = strings.TrimSpace(id); id != "" {
			d.channels[id] = struct{}{}
		}
	}
	session.AddHandler(d.onMessageCreate)
	return d, nil
}

// Start opens the gateway connection. Deliveries use ctx until Stop.
func (d *Discord) Start(ctx context.Context, handler Handler) error {
	d.mu.Lock()
	d.ctx = ctx
	d.handler = handler
	d.mu.Unlock()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	if d.session.State != nil && d.session.State.User != nil {
		d.logger.Info("discord connected",
			zap.String("user", d.session.State.User.Username),
			zap.Int("channels", len(d.channels)),
		)
	}
	return nil
}

func (d *Discord) Stop() error {
	return d.session.Close()
}

func (d *Discord) Fetch(ctx context.Context, channelID, messageID int64) (*Message, error) {
	msg, err := d.session.ChannelMessage(
		strconv.FormatInt(channelID, 10),
		strconv.FormatInt(messageID, 10),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, err
	}
	return messageFromDiscord(msg), nil
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	if m.Author != nil && s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !d.watching(m.GuildID, m.ChannelID) {
		return
	}

	d.mu.RLock()
	ctx, handler := d.ctx, d.handler
	d.mu.RUnlock()
	if handler == nil || ctx.Err() != nil {
		return
	}

	env, err := envelopeFromDiscord(m.Message)
	if err != nil {
		d.logger.Warn("discord message skipped", zap.String("channel_id", m.ChannelID), zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	env.ChannelTitle, env.ChannelHandle = d.channelNames(m.ChannelID, m.GuildID)

	if err := handler.Handle(ctx, env); err != nil {
		d.logger.Error("discord message handling failed",
			zap.Int64("channel_id", env.ChannelID),
			zap.Int64("message_id", env.MessageID),
			zap.Error(err),
		)
	}
}

func (d *Discord) watching(guildID, channelID string) bool {
	if d.guildID != "" && guildID != d.guildID {
		return false
	}
	if len(d.channels) == 0 {
		return true
	}
	_, ok := d.channels[channelID]
	return ok
}

// channelNames resolves the channel name and guild name, preferring the
// gateway state cache over REST.
func (d *Discord) channelNames(channelID, guildID string) (title, handle string) {
	if d.session.State != nil {
		if ch, err := d.session.State.Channel(channelID); err == nil && ch != nil {
			title = ch.Name
		}
		if guildID != "" {
			if g, err := d.session.State.Guild(guildID); err == nil && g != nil {
				handle = g.Name
			}
		}
	}
	if title == "" {
		if ch, err := d.session.Channel(channelID); err == nil && ch != nil {
			title = ch.Name
		}
	}
	return title, handle
}

func envelopeFromDiscord(m *discordgo.Message) (Envelope, error) {
	channelID, err := parseSnowflake(m.ChannelID)
	if err != nil {
		return Envelope{}, fmt.Errorf("channel id: %w", err)
	}
	messageID, err := parseSnowflake(m.ID)
	if err != nil {
		return Envelope{}, fmt.Errorf("message id: %w", err)
	}
	return Envelope{
		ChannelID: channelID,
		MessageID: messageID,
		Date:      m.Timestamp.UTC(),
		Text:      messageText(m),
	}, nil
}

func messageFromDiscord(m *discordgo.Message) *Message {
	out := &Message{Text: messageText(m)}
	if m.EditedTimestamp != nil && !m.EditedTimestamp.IsZero() {
		edited := m.EditedTimestamp.UTC()
		out.EditedAt = &edited
	}
	return out
}

// messageText is the message content, or the embed descriptions for
// messages posted by webhooks and bots that only send embeds.
func messageText(m *discordgo.Message) string {
	if text := strings.TrimSpace(m.Content); text != "" {
		return text
	}
	parts := make([]string, 0, len(m.Embeds))
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		if t := strings.TrimSpace(e.Title); t != "" {
			parts = append(parts, t)
		}
		if desc := strings.TrimSpace(e.Description); desc != "" {
			parts = append(parts, desc)
		}
	}
	return strings.Join(parts, "\n")
}

func parseSnowflake(id string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid snowflake %q", id)
	}
	return v, nil
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
