package bus

import (
	"time"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

// Command names as registered with the chat platform.
const (
	CommandRecord        = "기록"
	CommandParticipation = "참여도"
	CommandCheck         = "확인"
	CommandHelp          = "도움말"
)

// InboundMessage is a command accepted by a channel whose reply has already
// been deferred. ReplyTo identifies the pending reply inside the channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Command   string
	Day       ledger.Date
	ReplyTo   string
	Timestamp time.Time
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Kind selects how a channel renders an OutboundMessage.
type Kind int

const (
	KindText Kind = iota
	KindAbsenceNotice
	KindParticipation
	KindDateCheck
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindAbsenceNotice:
		return "absence-notice"
	case KindParticipation:
		return "participation"
	case KindDateCheck:
		return "date-check"
	case KindFailure:
		return "failure"
	default:
		return "text"
	}
}

// OutboundMessage carries structured results; channels do the rendering.
// An empty ReplyTo means a new message in ChatID.
type OutboundMessage struct {
	Channel string
	ChatID  string
	ReplyTo string
	Kind    Kind

	Content       string
	Day           ledger.Date
	Absentees     []attendance.Member
	Participation []attendance.Participation
	DateCheck     *attendance.DateCheck
}
