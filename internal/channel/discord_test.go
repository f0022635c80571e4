package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/bus"
	"github.com/MurHyun2/discord-study-bot/internal/config"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

// fakeSession is an in-memory DiscordSession.
type fakeSession struct {
	mu sync.Mutex

	self        *discordgo.User
	channel     *discordgo.Channel
	messages    []*discordgo.Message // newest first
	members     []*discordgo.Member
	messagesErr error
	membersErr  error
	sendErr     error

	opened     bool
	closed     bool
	handler    interface{}
	registered []*discordgo.ApplicationCommand
	regGuild   string
	responses  []*discordgo.InteractionResponse
	followups  []*discordgo.WebhookParams
	sent       []sentMessage
	memberReqs []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		self:    &discordgo.User{ID: "bot", Username: "studybot", Bot: true},
		channel: &discordgo.Channel{ID: "study", GuildID: "guild"},
	}
}

func (f *fakeSession) Open() error  { f.opened = true; return nil }
func (f *fakeSession) Close() error { f.closed = true; return nil }

func (f *fakeSession) AddHandler(handler interface{}) func() {
	f.handler = handler
	return func() { f.handler = nil }
}

func (f *fakeSession) Self(ctx context.Context) (*discordgo.User, error) {
	return f.self, nil
}

func (f *fakeSession) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if f.channel == nil || f.channel.ID != channelID {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return f.channel, nil
}

func (f *fakeSession) ChannelMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	start := 0
	if beforeID != "" {
		for i, m := range f.messages {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.messages) {
		end = len(f.messages)
	}
	return f.messages[start:end], nil
}

func (f *fakeSession) GuildMembers(ctx context.Context, guildID, after string, limit int) ([]*discordgo.Member, error) {
	f.memberReqs = append(f.memberReqs, after)
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	start := 0
	if after != "" {
		for i, m := range f.members {
			if m.User.ID == after {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.members) {
		end = len(f.members)
	}
	return f.members[start:end], nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, data: data})
	return nil
}

func (f *fakeSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) FollowupMessageCreate(i *discordgo.Interaction, params *discordgo.WebhookParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, params)
	return nil
}

func (f *fakeSession) RegisterCommands(appID, guildID string, cmds []*discordgo.ApplicationCommand) error {
	f.registered = cmds
	f.regGuild = guildID
	return nil
}

func (f *fakeSession) lastResponse(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		t.Fatal("no interaction response")
	}
	return f.responses[len(f.responses)-1]
}

var testTime = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func newTestDiscord(t *testing.T, mode ledger.Mode, busSize int) (*DiscordChannel, *fakeSession, *bus.MessageBus) {
	t.Helper()
	loc, err := ledger.LoadLocation(ledger.ReferenceZone)
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	session := newFakeSession()
	b := bus.NewMessageBus(busSize)
	d, err := NewDiscordChannelWithFactory(
		config.DiscordConfig{Token: "token", ChannelID: "study"},
		ledger.NewParser(mode, "", "", loc), loc, b,
		func(string) (DiscordSession, error) { return session, nil },
	)
	if err != nil {
		t.Fatalf("NewDiscordChannel: %v", err)
	}
	d.now = func() time.Time { return testTime }
	return d, session, b
}

func commandInteraction(id, channelID, name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:        id,
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: channelID,
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "minsu"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}
}

func dateOpt(v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  dateOptionName,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: v,
	}
}

func modalInteraction(value string) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:        "m1",
		Type:      discordgo.InteractionModalSubmit,
		ChannelID: "study",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "minsu", GlobalName: "민수"}},
		Data: discordgo.ModalSubmitInteractionData{
			CustomID: recordModalID,
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: recordContentID, Value: value},
				}},
			},
		},
	}
}

func TestNewDiscordChannel_Validation(t *testing.T) {
	b := bus.NewMessageBus(1)
	if _, err := NewDiscordChannel(config.DiscordConfig{ChannelID: "c"}, nil, nil, b); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewDiscordChannel(config.DiscordConfig{Token: "t"}, nil, nil, b); err == nil {
		t.Error("expected error for empty channel id")
	}
}

func TestDiscordChannel_StartResolvesGuildAndRegisters(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !session.opened {
		t.Error("session should be opened")
	}
	if d.GuildID() != "guild" || session.regGuild != "guild" {
		t.Errorf("guild = %q / registered in %q, want guild", d.GuildID(), session.regGuild)
	}
	if session.handler == nil {
		t.Error("interaction handler should be registered")
	}
	names := make([]string, 0, len(session.registered))
	for _, c := range session.registered {
		names = append(names, c.Name)
	}
	if got := strings.Join(names, ","); got != "기록,참여도,확인,도움말" {
		t.Errorf("commands = %s", got)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if !session.closed || session.handler != nil {
		t.Error("Stop should close the session and remove the handler")
	}
}

func TestDiscordChannel_CommandModeHasNoRecordCommand(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeCommand, 1)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	for _, c := range session.registered {
		if c.Name == bus.CommandRecord {
			t.Error("record command should not be registered in command mode")
		}
	}
}

func TestDiscordChannel_ConnectChannelOutsideGuild(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	session.channel.GuildID = ""
	if err := d.Connect(context.Background()); err == nil {
		t.Error("expected error for channel without guild")
	}
}

func TestDiscordChannel_RetrievePast(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	session.messages = []*discordgo.Message{
		{
			ID:        "3",
			Author:    &discordgo.User{ID: "bot"},
			Timestamp: testTime,
			Embeds: []*discordgo.MessageEmbed{{
				Description: "algorithms",
				Footer:      &discordgo.MessageEmbedFooter{Text: "참여자 ID: u1"},
			}},
		},
		{ID: "2", Author: &discordgo.User{ID: "u2"}, Timestamp: testTime, Content: "hello"},
		{ID: "1", Author: &discordgo.User{ID: "bot"}, Timestamp: testTime},
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got, err := d.RetrievePast(context.Background(), "study", "", 2)
	if err != nil {
		t.Fatalf("RetrievePast error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].IsSelf || got[0].Embed == nil || got[0].Embed.FooterText != "참여자 ID: u1" || got[0].Embed.Description != "algorithms" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].IsSelf || got[1].AuthorID != "u2" || got[1].Text != "hello" || got[1].Embed != nil {
		t.Errorf("got[1] = %+v", got[1])
	}

	older, err := d.RetrievePast(context.Background(), "study", "2", 100)
	if err != nil || len(older) != 1 || older[0].ID != "1" {
		t.Errorf("older page = %+v, %v", older, err)
	}
}

func TestDiscordChannel_RetrievePastThroughReader(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	for i := 250; i > 0; i-- {
		session.messages = append(session.messages, &discordgo.Message{
			ID:        fmt.Sprintf("%d", i),
			Author:    &discordgo.User{ID: "u"},
			Timestamp: testTime,
		})
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	msgs, err := ledger.ReadHistory(context.Background(), d, "study", ledger.ReadOptions{})
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(msgs) != 250 {
		t.Errorf("len = %d, want 250", len(msgs))
	}
}

func TestDiscordChannel_ListMembersPaginates(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	joined := time.Date(2024, 2, 29, 16, 30, 0, 0, time.UTC) // 2024-03-01 in KST
	for i := 0; i < memberPageSize+2; i++ {
		session.members = append(session.members, &discordgo.Member{
			User:     &discordgo.User{ID: fmt.Sprintf("m%04d", i), Username: "user"},
			JoinedAt: joined,
		})
	}
	session.members[0].Nick = "닉네임"
	session.members[1].User.GlobalName = "Global"
	session.members[2].User.Bot = true
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got, err := d.ListMembers(context.Background(), "")
	if err != nil {
		t.Fatalf("ListMembers error: %v", err)
	}
	if len(got) != memberPageSize+2 {
		t.Fatalf("len = %d, want %d", len(got), memberPageSize+2)
	}
	if len(session.memberReqs) != 2 || session.memberReqs[1] != fmt.Sprintf("m%04d", memberPageSize-1) {
		t.Errorf("member page cursors = %v", session.memberReqs)
	}
	if got[0].DisplayName != "닉네임" || got[1].DisplayName != "Global" || got[3].DisplayName != "user" {
		t.Errorf("display names = %q %q %q", got[0].DisplayName, got[1].DisplayName, got[3].DisplayName)
	}
	if !got[2].Bot || got[0].Bot {
		t.Error("bot flag not carried")
	}
	if want := (ledger.Date{Year: 2024, Month: 3, Day: 1}); got[0].JoinDate != want {
		t.Errorf("JoinDate = %v, want %v", got[0].JoinDate, want)
	}
}

func TestDiscordChannel_ListMembersError(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	session.membersErr = fmt.Errorf("missing access")
	if _, err := d.ListMembers(context.Background(), ""); err == nil {
		t.Error("expected error")
	}
}

func TestDiscordChannel_WrongChannel(t *testing.T) {
	d, session, b := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(commandInteraction("i1", "random", bus.CommandParticipation))

	resp := session.lastResponse(t)
	if resp.Data.Content != msgWrongChannel || resp.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Errorf("response = %+v", resp.Data)
	}
	if len(b.Inbound) != 0 {
		t.Error("command from the wrong channel must not be dispatched")
	}
}

func TestDiscordChannel_ParticipationDispatch(t *testing.T) {
	d, session, b := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(commandInteraction("i1", "study", bus.CommandParticipation))

	resp := session.lastResponse(t)
	if resp.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("response type = %v, want deferred", resp.Type)
	}
	select {
	case msg := <-b.Inbound:
		if msg.Command != bus.CommandParticipation || msg.ReplyTo != "i1" || msg.SenderID != "u1" || msg.Channel != "discord" {
			t.Errorf("inbound = %+v", msg)
		}
	default:
		t.Fatal("expected inbound message")
	}

	rates := []attendance.Participation{{Member: attendance.Member{DisplayName: "A"}, ParticipatedDays: 1, TotalDays: 4, Ratio: 25}}
	if err := d.Send(bus.OutboundMessage{Channel: "discord", ReplyTo: "i1", Kind: bus.KindParticipation, Participation: rates}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(session.followups) != 1 {
		t.Fatalf("followups = %d, want 1", len(session.followups))
	}
	fu := session.followups[0]
	if fu.Flags != discordgo.MessageFlagsEphemeral || len(fu.Embeds) != 1 || fu.Embeds[0].Fields[0].Name != "A (25.0%)" {
		t.Errorf("followup = %+v", fu)
	}

	if err := d.Send(bus.OutboundMessage{ReplyTo: "i1", Kind: bus.KindText}); err == nil {
		t.Error("a pending interaction can only be answered once")
	}
}

func TestDiscordChannel_CheckDateOption(t *testing.T) {
	d, session, b := newTestDiscord(t, ledger.ModeEmbed, 2)
	d.SetSession(session, "bot")

	d.handleInteraction(commandInteraction("i1", "study", bus.CommandCheck, dateOpt("2024-03-04")))
	d.handleInteraction(commandInteraction("i2", "study", bus.CommandCheck))

	first := <-b.Inbound
	if first.Day != (ledger.Date{Year: 2024, Month: 3, Day: 4}) {
		t.Errorf("Day = %v, want 2024-03-04", first.Day)
	}
	second := <-b.Inbound
	if !second.Day.IsZero() {
		t.Errorf("Day = %v, want zero for today", second.Day)
	}
}

func TestDiscordChannel_CheckDateInvalid(t *testing.T) {
	d, session, b := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(commandInteraction("i1", "study", bus.CommandCheck, dateOpt("2024/03/04")))

	if resp := session.lastResponse(t); resp.Data.Content != msgBadDate {
		t.Errorf("content = %q, want bad date warning", resp.Data.Content)
	}
	if len(b.Inbound) != 0 {
		t.Error("invalid date must not be dispatched")
	}
}

func TestDiscordChannel_BusFull(t *testing.T) {
	d, session, b := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")
	b.Inbound <- bus.InboundMessage{}

	d.handleInteraction(commandInteraction("i1", "study", bus.CommandParticipation))

	if len(session.followups) != 1 || session.followups[0].Content != msgFailure {
		t.Errorf("followups = %+v, want failure notice", session.followups)
	}
	if _, ok := d.pending.Load("i1"); ok {
		t.Error("dropped interaction should not stay pending")
	}
}

func TestDiscordChannel_HelpAndUnknown(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(commandInteraction("i1", "study", bus.CommandHelp))
	resp := session.lastResponse(t)
	if len(resp.Data.Embeds) != 1 || resp.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Errorf("help response = %+v", resp.Data)
	}

	d.handleInteraction(commandInteraction("i2", "study", "없는명령"))
	if resp := session.lastResponse(t); resp.Data.Content != msgUnknownCommand {
		t.Errorf("content = %q, want unknown command", resp.Data.Content)
	}
}

func TestDiscordChannel_RecordOpensModal(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(commandInteraction("i1", "study", bus.CommandRecord))
	resp := session.lastResponse(t)
	if resp.Type != discordgo.InteractionResponseModal || resp.Data.CustomID != recordModalID {
		t.Errorf("response = %+v, want record modal", resp)
	}
}

func TestDiscordChannel_RecordRejectedInCommandMode(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeCommand, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(commandInteraction("i1", "study", bus.CommandRecord))
	if resp := session.lastResponse(t); resp.Data.Content != msgUnknownCommand {
		t.Errorf("content = %q, want unknown command", resp.Data.Content)
	}
}

func TestDiscordChannel_ModalSubmitPostsParsableEmbed(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(modalInteraction("  그래프 탐색 복습  "))

	if len(session.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(session.sent))
	}
	embed := session.sent[0].data.Embeds[0]
	if embed.Description != "그래프 탐색 복습" || embed.Color != colorRecord || embed.Author.Name != "민수" {
		t.Errorf("embed = %+v", embed)
	}
	if resp := session.lastResponse(t); resp.Data.Content != msgRecorded {
		t.Errorf("content = %q, want recorded", resp.Data.Content)
	}

	// The embed must round-trip through the ledger parser.
	raw := ledger.RawMessage{
		ID:        "x",
		AuthorID:  "bot",
		IsSelf:    true,
		Timestamp: testTime,
		Embed:     &ledger.Embed{FooterText: embed.Footer.Text, Description: embed.Description},
	}
	rec, ok := d.parser.Parse(raw)
	if !ok || rec.MemberID != "u1" {
		t.Errorf("Parse = %+v, %v; want record for u1", rec, ok)
	}
}

func TestDiscordChannel_ModalSubmitBlank(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	d.handleInteraction(modalInteraction("   "))
	if resp := session.lastResponse(t); resp.Data.Content != msgBlankContent {
		t.Errorf("content = %q, want blank warning", resp.Data.Content)
	}
	if len(session.sent) != 0 {
		t.Error("blank record must not be posted")
	}
}

func TestDiscordChannel_ModalSubmitMissingInput(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	i := modalInteraction("x")
	i.Data = discordgo.ModalSubmitInteractionData{CustomID: recordModalID}
	d.handleInteraction(i)
	if resp := session.lastResponse(t); resp.Data.Content != msgEmptyInput {
		t.Errorf("content = %q, want empty input warning", resp.Data.Content)
	}
}

func TestDiscordChannel_ModalSubmitPostFails(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")
	session.sendErr = fmt.Errorf("missing permissions")

	d.handleInteraction(modalInteraction("study"))
	if resp := session.lastResponse(t); resp.Data.Content != msgRecordFailed {
		t.Errorf("content = %q, want record failure", resp.Data.Content)
	}
}

func TestDiscordChannel_SendAbsenceNotice(t *testing.T) {
	d, session, _ := newTestDiscord(t, ledger.ModeEmbed, 1)
	d.SetSession(session, "bot")

	err := d.Send(bus.OutboundMessage{
		Kind:      bus.KindAbsenceNotice,
		Absentees: []attendance.Member{{ID: "1"}, {ID: "2"}},
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(session.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(session.sent))
	}
	msg := session.sent[0]
	if msg.channelID != "study" {
		t.Errorf("channel = %q, want study", msg.channelID)
	}
	want := msgAbsenceHeader + "<@1> <@2>"
	if msg.data.Content != want {
		t.Errorf("content = %q, want %q", msg.data.Content, want)
	}
	if msg.data.AllowedMentions == nil || len(msg.data.AllowedMentions.Parse) != 1 {
		t.Error("absence notice should allow user mentions")
	}

	if err := d.Send(bus.OutboundMessage{Kind: bus.KindAbsenceNotice}); err != nil {
		t.Errorf("empty notice error: %v", err)
	}
	if len(session.sent) != 1 {
		t.Error("empty absentee list must not post")
	}
}

func TestDiscordChannel_SendNoSession(t *testing.T) {
	b := bus.NewMessageBus(1)
	d, _ := NewDiscordChannel(config.DiscordConfig{Token: "t", ChannelID: "c"}, nil, nil, b)
	if err := d.Send(bus.OutboundMessage{Kind: bus.KindText, Content: "x"}); err == nil {
		t.Error("expected error without session")
	}
	if _, err := d.RetrievePast(context.Background(), "c", "", 1); err == nil {
		t.Error("expected error without session")
	}
}
