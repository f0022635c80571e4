package ledger

import (
	"strings"
	"time"
)

// Mode selects which messages count as attendance events.
type Mode string

const (
	// ModeEmbed matches records posted by the bot itself whose embed footer
	// starts with the marker followed by the member id.
	ModeEmbed Mode = "embed"
	// ModeCommand matches messages written by members that start with the
	// command token.
	ModeCommand Mode = "command"
)

const (
	DefaultMarker       = "참여자 ID:"
	DefaultCommandToken = "!기록"
)

// Parser turns raw history messages into attendance events.
type Parser struct {
	mode   Mode
	marker string
	token  string
	loc    *time.Location
}

func NewParser(mode Mode, marker, token string, loc *time.Location) *Parser {
	if mode == "" {
		mode = ModeEmbed
	}
	if marker == "" {
		marker = DefaultMarker
	}
	if token == "" {
		token = DefaultCommandToken
	}
	if loc == nil {
		loc, _ = LoadLocation(ReferenceZone)
	}
	return &Parser{mode: mode, marker: marker, token: token, loc: loc}
}

func (p *Parser) Mode() Mode { return p.mode }

// Marker is the footer prefix written into record embeds.
func (p *Parser) Marker() string { return p.marker }

// Token is the text prefix recognised in command mode.
func (p *Parser) Token() string { return p.token }

// Footer renders the embed footer that Parse recognises for memberID.
func (p *Parser) Footer(memberID string) string {
	return p.marker + " " + memberID
}

// Parse returns the event carried by msg. The boolean is false for messages
// that are not attendance events, including ones with a marker but no usable
// member id.
func (p *Parser) Parse(msg RawMessage) (EventRecord, bool) {
	switch p.mode {
	case ModeCommand:
		return p.parseCommand(msg)
	default:
		return p.parseEmbed(msg)
	}
}

func (p *Parser) parseEmbed(msg RawMessage) (EventRecord, bool) {
	if !msg.IsSelf || msg.Embed == nil {
		return EventRecord{}, false
	}
	footer := msg.Embed.FooterText
	if !strings.HasPrefix(footer, p.marker) {
		return EventRecord{}, false
	}
	id := strings.TrimSpace(strings.TrimPrefix(footer, p.marker))
	if !validID(id) {
		return EventRecord{}, false
	}
	return EventRecord{
		MemberID:  id,
		Timestamp: msg.Timestamp.In(p.loc),
		Content:   msg.Embed.Description,
	}, true
}

func (p *Parser) parseCommand(msg RawMessage) (EventRecord, bool) {
	if msg.IsSelf || !validID(msg.AuthorID) {
		return EventRecord{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, p.token) {
		return EventRecord{}, false
	}
	rest := strings.TrimPrefix(text, p.token)
	// "!기록중" is not the command.
	if rest != "" && !startsWithSpace(rest) {
		return EventRecord{}, false
	}
	return EventRecord{
		MemberID:  msg.AuthorID,
		Timestamp: msg.Timestamp.In(p.loc),
		Content:   strings.TrimSpace(rest),
	}, true
}

// ParseAll keeps the events of msgs in input order.
func (p *Parser) ParseAll(msgs []RawMessage) []EventRecord {
	records := make([]EventRecord, 0, len(msgs))
	for _, msg := range msgs {
		if rec, ok := p.Parse(msg); ok {
			records = append(records, rec)
		}
	}
	return records
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, " \t\r\n")
}

func startsWithSpace(s string) bool {
	switch s[0] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
