package channel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/bus"
	"github.com/MurHyun2/discord-study-bot/internal/config"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

const (
	discordChannelName = "discord"
	recordModalID      = "record-modal"
	recordContentID    = "content"
	dateOptionName     = "날짜"
	memberPageSize     = 1000
)

// DiscordSession is the subset of the Discord API the bot uses (allows
// mocking in tests).
type DiscordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Self(ctx context.Context) (*discordgo.User, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	ChannelMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error)
	GuildMembers(ctx context.Context, guildID, after string, limit int) ([]*discordgo.Member, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) error
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	FollowupMessageCreate(i *discordgo.Interaction, params *discordgo.WebhookParams) error
	RegisterCommands(appID, guildID string, cmds []*discordgo.ApplicationCommand) error
}

// dgSession wraps discordgo.Session to implement DiscordSession.
type dgSession struct {
	s *discordgo.Session
}

func (w *dgSession) Open() error  { return w.s.Open() }
func (w *dgSession) Close() error { return w.s.Close() }

func (w *dgSession) AddHandler(handler interface{}) func() {
	return w.s.AddHandler(handler)
}

func (w *dgSession) Self(ctx context.Context) (*discordgo.User, error) {
	if w.s.State != nil && w.s.State.User != nil {
		return w.s.State.User, nil
	}
	return w.s.User("@me", discordgo.WithContext(ctx))
}

func (w *dgSession) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return w.s.Channel(channelID, discordgo.WithContext(ctx))
}

func (w *dgSession) ChannelMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	return w.s.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
}

func (w *dgSession) GuildMembers(ctx context.Context, guildID, after string, limit int) ([]*discordgo.Member, error) {
	return w.s.GuildMembers(guildID, after, limit, discordgo.WithContext(ctx))
}

func (w *dgSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) error {
	_, err := w.s.ChannelMessageSendComplex(channelID, data)
	return err
}

func (w *dgSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return w.s.InteractionRespond(i, resp)
}

func (w *dgSession) FollowupMessageCreate(i *discordgo.Interaction, params *discordgo.WebhookParams) error {
	_, err := w.s.FollowupMessageCreate(i, true, params)
	return err
}

func (w *dgSession) RegisterCommands(appID, guildID string, cmds []*discordgo.ApplicationCommand) error {
	_, err := w.s.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	return err
}

// SessionFactory creates DiscordSession instances (allows mocking).
type SessionFactory func(token string) (DiscordSession, error)

var defaultSessionFactory SessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	return &dgSession{s: s}, nil
}

// DiscordChannel is the study channel: it is the attendance log, the
// member directory and the command surface at once.
type DiscordChannel struct {
	BaseChannel
	token     string
	channelID string
	guildID   string
	parser    *ledger.Parser
	loc       *time.Location
	session   DiscordSession
	factory   SessionFactory
	selfID    string

	pending       sync.Map // interaction id -> *discordgo.Interaction
	removeHandler func()
	now           func() time.Time
}

func NewDiscordChannel(cfg config.DiscordConfig, parser *ledger.Parser, loc *time.Location, b *bus.MessageBus) (*DiscordChannel, error) {
	return NewDiscordChannelWithFactory(cfg, parser, loc, b, defaultSessionFactory)
}

// NewDiscordChannelWithFactory creates a DiscordChannel with a custom session factory (for testing)
func NewDiscordChannelWithFactory(cfg config.DiscordConfig, parser *ledger.Parser, loc *time.Location, b *bus.MessageBus, factory SessionFactory) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord channel id is required")
	}
	if loc == nil {
		loc, _ = ledger.LoadLocation(ledger.ReferenceZone)
	}
	if parser == nil {
		parser = ledger.NewParser(ledger.ModeEmbed, "", "", loc)
	}
	return &DiscordChannel{
		BaseChannel: NewBaseChannel(discordChannelName, b, []string{cfg.ChannelID}),
		token:       cfg.Token,
		channelID:   cfg.ChannelID,
		guildID:     cfg.GuildID,
		parser:      parser,
		loc:         loc,
		factory:     factory,
		now:         time.Now,
	}, nil
}

// Connect creates the session and resolves the bot identity and guild
// without opening the gateway websocket. REST-only callers stop here.
func (d *DiscordChannel) Connect(ctx context.Context) error {
	if err := d.ensureSession(); err != nil {
		return err
	}

	self, err := d.session.Self(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot user: %w", err)
	}
	d.selfID = self.ID

	if d.guildID == "" {
		ch, err := d.session.Channel(ctx, d.channelID)
		if err != nil {
			return fmt.Errorf("resolve study channel %s: %w", d.channelID, err)
		}
		if ch.GuildID == "" {
			return fmt.Errorf("study channel %s is not in a guild", d.channelID)
		}
		d.guildID = ch.GuildID
	}
	return nil
}

func (d *DiscordChannel) ensureSession() error {
	if d.session != nil {
		return nil
	}
	session, err := d.factory(d.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	d.session = session
	return nil
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	if err := d.ensureSession(); err != nil {
		return err
	}

	d.removeHandler = d.session.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		d.handleInteraction(ic.Interaction)
	})
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if err := d.Connect(ctx); err != nil {
		return err
	}

	if err := d.session.RegisterCommands(d.selfID, d.guildID, d.commands()); err != nil {
		log.Printf("[discord] register slash commands failed: %v", err)
	} else {
		log.Printf("[discord] slash commands registered in guild %s", d.guildID)
	}
	log.Printf("[discord] connected as %s, study channel %s", d.selfID, d.channelID)
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.removeHandler != nil {
		d.removeHandler()
		d.removeHandler = nil
	}
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("close discord session: %w", err)
		}
	}
	log.Printf("[discord] stopped")
	return nil
}

// SetSession sets the session (for testing)
func (d *DiscordChannel) SetSession(s DiscordSession, selfID string) {
	d.session = s
	d.selfID = selfID
}

func (d *DiscordChannel) ChannelID() string { return d.channelID }
func (d *DiscordChannel) GuildID() string   { return d.guildID }

// RetrievePast implements ledger.MessageSource.
func (d *DiscordChannel) RetrievePast(ctx context.Context, channelID, beforeID string, limit int) ([]ledger.RawMessage, error) {
	if d.session == nil {
		return nil, fmt.Errorf("discord session not initialized")
	}
	msgs, err := d.session.ChannelMessages(ctx, channelID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, d.toRaw(m))
	}
	return out, nil
}

func (d *DiscordChannel) toRaw(m *discordgo.Message) ledger.RawMessage {
	raw := ledger.RawMessage{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Text:      m.Content,
	}
	if m.Author != nil {
		raw.AuthorID = m.Author.ID
		raw.IsSelf = d.selfID != "" && m.Author.ID == d.selfID
	}
	if len(m.Embeds) > 0 && m.Embeds[0] != nil {
		e := m.Embeds[0]
		raw.Embed = &ledger.Embed{Description: e.Description}
		if e.Footer != nil {
			raw.Embed.FooterText = e.Footer.Text
		}
	}
	return raw
}

// ListMembers implements attendance.Directory. An empty guildID means the
// guild of the study channel.
func (d *DiscordChannel) ListMembers(ctx context.Context, guildID string) ([]attendance.Member, error) {
	if d.session == nil {
		return nil, fmt.Errorf("discord session not initialized")
	}
	if guildID == "" {
		guildID = d.guildID
	}
	if guildID == "" {
		return nil, fmt.Errorf("guild not resolved")
	}

	var (
		out   []attendance.Member
		after string
	)
	for {
		page, err := d.session.GuildMembers(ctx, guildID, after, memberPageSize)
		if err != nil {
			return nil, fmt.Errorf("list members of %s: %w", guildID, err)
		}
		for _, m := range page {
			if m == nil || m.User == nil {
				continue
			}
			out = append(out, attendance.Member{
				ID:          m.User.ID,
				DisplayName: displayName(m),
				JoinDate:    ledger.DateOf(m.JoinedAt, d.loc),
				Bot:         m.User.Bot,
			})
			after = m.User.ID
		}
		if len(page) < memberPageSize {
			return out, nil
		}
	}
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (d *DiscordChannel) commands() []*discordgo.ApplicationCommand {
	cmds := []*discordgo.ApplicationCommand{
		{Name: bus.CommandParticipation, Description: "멤버별 누적 스터디 참여율을 확인합니다."},
		{
			Name:        bus.CommandCheck,
			Description: "특정 날짜의 참여 현황과 미참여자를 확인합니다.",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        dateOptionName,
				Description: "확인할 날짜 (YYYY-MM-DD 형식, 비워두면 오늘)",
				Required:    false,
			}},
		},
		{Name: bus.CommandHelp, Description: "봇의 모든 명령어를 확인합니다."},
	}
	if d.parser.Mode() == ledger.ModeEmbed {
		cmds = append([]*discordgo.ApplicationCommand{
			{Name: bus.CommandRecord, Description: "오늘의 스터디 참여를 기록하는 팝업창을 엽니다."},
		}, cmds...)
	}
	return cmds
}

func (d *DiscordChannel) handleInteraction(i *discordgo.Interaction) {
	if i == nil {
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		d.handleCommand(i)
	case discordgo.InteractionModalSubmit:
		d.handleModal(i)
	}
}

func (d *DiscordChannel) handleCommand(i *discordgo.Interaction) {
	if !d.IsAllowed(i.ChannelID) {
		d.respondEphemeral(i, msgWrongChannel)
		return
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case bus.CommandRecord:
		if d.parser.Mode() != ledger.ModeEmbed {
			d.respondEphemeral(i, msgUnknownCommand)
			return
		}
		d.respond(i, recordModal())
	case bus.CommandHelp:
		d.respond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{helpEmbed(d.parser)},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		})
	case bus.CommandParticipation:
		d.dispatch(i, bus.InboundMessage{Command: bus.CommandParticipation})
	case bus.CommandCheck:
		day, ok := dateOption(data.Options)
		if !ok {
			d.respondEphemeral(i, msgBadDate)
			return
		}
		d.dispatch(i, bus.InboundMessage{Command: bus.CommandCheck, Day: day})
	default:
		d.respondEphemeral(i, msgUnknownCommand)
	}
}

// dateOption returns the zero Date when the option is absent.
func dateOption(opts []*discordgo.ApplicationCommandInteractionDataOption) (ledger.Date, bool) {
	for _, opt := range opts {
		if opt == nil || opt.Name != dateOptionName || opt.Type != discordgo.ApplicationCommandOptionString {
			continue
		}
		v := strings.TrimSpace(opt.StringValue())
		if v == "" {
			return ledger.Date{}, true
		}
		day, err := ledger.ParseDate(v)
		if err != nil {
			return ledger.Date{}, false
		}
		return day, true
	}
	return ledger.Date{}, true
}

// dispatch defers the reply and hands the heavy work to the gateway.
func (d *DiscordChannel) dispatch(i *discordgo.Interaction, msg bus.InboundMessage) {
	err := d.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		log.Printf("[discord] defer reply for %s failed: %v", msg.Command, err)
		return
	}

	d.pending.Store(i.ID, i)
	msg.Channel = discordChannelName
	msg.ChatID = i.ChannelID
	msg.ReplyTo = i.ID
	msg.Timestamp = d.now()
	if u := interactionUser(i); u != nil {
		msg.SenderID = u.ID
	}

	select {
	case d.bus.Inbound <- msg:
	default:
		d.pending.Delete(i.ID)
		log.Printf("[discord] inbound queue full, dropping %s", msg.Command)
		d.followup(i, &discordgo.WebhookParams{Content: msgFailure, Flags: discordgo.MessageFlagsEphemeral})
	}
}

func recordModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: recordModalID,
			Title:    "스터디 기록 작성",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    recordContentID,
						Label:       "공부 내용",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "오늘 공부한 내용을 자유롭게 기록해주세요.\n여러 줄 입력이 가능합니다.",
						Required:    true,
						MaxLength:   1000,
					},
				}},
			},
		},
	}
}

func modalValue(components []discordgo.MessageComponent, id string) (string, bool) {
	for _, c := range components {
		var inner []discordgo.MessageComponent
		switch row := c.(type) {
		case *discordgo.ActionsRow:
			inner = row.Components
		case discordgo.ActionsRow:
			inner = row.Components
		}
		for _, ic := range inner {
			switch in := ic.(type) {
			case *discordgo.TextInput:
				if in.CustomID == id {
					return in.Value, true
				}
			case discordgo.TextInput:
				if in.CustomID == id {
					return in.Value, true
				}
			}
		}
	}
	return "", false
}

func (d *DiscordChannel) handleModal(i *discordgo.Interaction) {
	data := i.ModalSubmitData()
	if data.CustomID != recordModalID {
		return
	}

	content, ok := modalValue(data.Components, recordContentID)
	if !ok {
		d.respondEphemeral(i, msgEmptyInput)
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		d.respondEphemeral(i, msgBlankContent)
		return
	}

	user := interactionUser(i)
	if user == nil {
		d.respondEphemeral(i, msgFailure)
		return
	}

	channelID := i.ChannelID
	if channelID == "" {
		channelID = d.channelID
	}
	embed := recordEmbed(user, content, d.parser.Footer(user.ID), d.now())
	if err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
		log.Printf("[discord] post record for %s failed: %v", user.ID, err)
		d.respondEphemeral(i, msgRecordFailed)
		return
	}
	d.respondEphemeral(i, msgRecorded)
}

func (d *DiscordChannel) respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) {
	if err := d.session.InteractionRespond(i, resp); err != nil {
		log.Printf("[discord] respond to interaction %s failed: %v", i.ID, err)
	}
}

func (d *DiscordChannel) respondEphemeral(i *discordgo.Interaction, content string) {
	d.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (d *DiscordChannel) followup(i *discordgo.Interaction, params *discordgo.WebhookParams) error {
	if err := d.session.FollowupMessageCreate(i, params); err != nil {
		return fmt.Errorf("send followup: %w", err)
	}
	return nil
}

// Send renders msg. With ReplyTo it completes a deferred interaction,
// otherwise it posts into ChatID (the study channel when empty).
func (d *DiscordChannel) Send(msg bus.OutboundMessage) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}

	if msg.ReplyTo != "" {
		v, ok := d.pending.LoadAndDelete(msg.ReplyTo)
		if !ok {
			return fmt.Errorf("no pending interaction %s", msg.ReplyTo)
		}
		params := renderFollowup(msg)
		params.Flags = discordgo.MessageFlagsEphemeral
		return d.followup(v.(*discordgo.Interaction), params)
	}

	chatID := msg.ChatID
	if chatID == "" {
		chatID = d.channelID
	}
	send := renderMessage(msg)
	if send == nil {
		return nil
	}
	if err := d.session.ChannelMessageSendComplex(chatID, send); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}
