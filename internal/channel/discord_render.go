package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/bus"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

const (
	msgWrongChannel   = "이 채널에서는 스터디 봇 명령어를 사용할 수 없습니다."
	msgUnknownCommand = "알 수 없는 명령어입니다."
	msgFailure        = "⚠️ 현황을 불러오는 중 오류가 발생했습니다."
	msgBadDate        = "⚠️ 날짜 형식이 올바르지 않습니다. `YYYY-MM-DD` 형식으로 입력해주세요."
	msgEmptyInput     = "⚠️ 입력 내용이 비어있습니다."
	msgBlankContent   = "⚠️ 공부 내용을 입력해주세요."
	msgRecorded       = "✅ 기록이 성공적으로 등록되었습니다!"
	msgRecordFailed   = "⚠️ 기록을 등록하지 못했습니다. 잠시 후 다시 시도해주세요."
	msgAbsenceHeader  = "🔔 **어제 스터디 기록이 없는 멤버입니다. 오늘 꼭 기록해주세요!**\n"
	msgNoRates        = "아직 집계할 멤버가 없습니다."

	// StartupMessage is posted into the study channel once the gateway is up.
	StartupMessage = "```📚 스터디 관리 봇이 시작되었습니다. (/도움말)```"
)

const (
	colorRecord        = 0x3BA55D
	colorParticipation = 70<<16 | 130<<8 | 180
	colorDateCheck     = 0x5865F2

	maxEmbedFields   = 25
	maxFieldValue    = 1024
	maxContentRunes  = 50
	maxMessageLength = 2000
)

func recordEmbed(user *discordgo.User, content, footer string, now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    userName(user),
			IconURL: user.AvatarURL(""),
		},
		Color:       colorRecord,
		Description: content,
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
		Timestamp:   now.Format(time.RFC3339),
	}
}

func userName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func helpEmbed(p *ledger.Parser) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{}
	if p.Mode() == ledger.ModeEmbed {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "/" + bus.CommandRecord,
			Value: "오늘의 스터디 참여를 기록하는 팝업창을 엽니다.",
		})
	} else {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  p.Token() + " <내용>",
			Value: "채팅으로 오늘의 스터디 참여를 기록합니다.",
		})
	}
	fields = append(fields,
		&discordgo.MessageEmbedField{
			Name:  "/" + bus.CommandParticipation,
			Value: "멤버별 누적 스터디 참여율을 확인합니다.",
		},
		&discordgo.MessageEmbedField{
			Name:  "/" + bus.CommandCheck + " [" + dateOptionName + "]",
			Value: "특정 날짜(YYYY-MM-DD)의 참여 현황을 확인합니다. 비워두면 오늘입니다.",
		},
		&discordgo.MessageEmbedField{
			Name:  "/" + bus.CommandHelp,
			Value: "이 도움말을 표시합니다.",
		},
	)
	return &discordgo.MessageEmbed{
		Title:  "📖 스터디 봇 도움말",
		Color:  colorDateCheck,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{Text: "매일 자정, 전날 기록이 없는 멤버를 멘션합니다."},
	}
}

// participationEmbeds splits rates into embeds of at most 25 fields.
func participationEmbeds(rates []attendance.Participation) []*discordgo.MessageEmbed {
	if len(rates) == 0 {
		return []*discordgo.MessageEmbed{{
			Title:       "🏆 멤버별 스터디 참여율",
			Color:       colorParticipation,
			Description: msgNoRates,
		}}
	}

	var embeds []*discordgo.MessageEmbed
	for start := 0; start < len(rates); start += maxEmbedFields {
		end := start + maxEmbedFields
		if end > len(rates) {
			end = len(rates)
		}
		embed := &discordgo.MessageEmbed{Color: colorParticipation}
		if start == 0 {
			embed.Title = "🏆 멤버별 스터디 참여율"
		}
		for _, r := range rates[start:end] {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:   fmt.Sprintf("%s (%.1f%%)", r.Member.DisplayName, r.Ratio),
				Value:  fmt.Sprintf("참여: %d일 / 전체: %d일", r.ParticipatedDays, r.TotalDays),
				Inline: true,
			})
		}
		embeds = append(embeds, embed)
	}
	return embeds
}

func dateCheckEmbed(dc *attendance.DateCheck) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🗓️ %04d년 %02d월 %02d일 스터디 현황", dc.Day.Year, int(dc.Day.Month), dc.Day.Day),
		Color: colorDateCheck,
	}

	if len(dc.Participants) > 0 {
		lines := make([]string, 0, len(dc.Participants))
		for _, p := range dc.Participants {
			lines = append(lines, fmt.Sprintf("**%s**: %s", p.Member.DisplayName, summarize(p.Content)))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("✅ 참여한 멤버 (%d명)", len(dc.Participants)),
			Value: clip(strings.Join(lines, "\n"), maxFieldValue),
		})
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "✅ 참여한 멤버 (0명)",
			Value: "참여한 멤버가 없습니다.",
		})
	}

	if len(dc.Absentees) > 0 {
		names := make([]string, 0, len(dc.Absentees))
		for _, m := range dc.Absentees {
			names = append(names, m.DisplayName)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("❌ 미참여 멤버 (%d명)", len(dc.Absentees)),
			Value: clip(strings.Join(names, ", "), maxFieldValue),
		})
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "❌ 미참여 멤버 (0명)",
			Value: "모든 멤버가 참여했습니다! 🎉",
		})
	}
	return embed
}

func summarize(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "내용 없음"
	}
	r := []rune(content)
	if len(r) > maxContentRunes {
		return string(r[:maxContentRunes]) + "..."
	}
	return content
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func absenceNotice(members []attendance.Member) string {
	mentions := make([]string, 0, len(members))
	for _, m := range members {
		mentions = append(mentions, m.Mention())
	}
	return clip(msgAbsenceHeader+strings.Join(mentions, " "), maxMessageLength)
}

func renderFollowup(msg bus.OutboundMessage) *discordgo.WebhookParams {
	switch msg.Kind {
	case bus.KindParticipation:
		return &discordgo.WebhookParams{Embeds: participationEmbeds(msg.Participation)}
	case bus.KindDateCheck:
		if msg.DateCheck == nil {
			return &discordgo.WebhookParams{Content: msgFailure}
		}
		return &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{dateCheckEmbed(msg.DateCheck)}}
	case bus.KindFailure:
		content := msg.Content
		if content == "" {
			content = msgFailure
		}
		return &discordgo.WebhookParams{Content: content}
	case bus.KindAbsenceNotice:
		return &discordgo.WebhookParams{Content: absenceNotice(msg.Absentees)}
	default:
		return &discordgo.WebhookParams{Content: clip(msg.Content, maxMessageLength)}
	}
}

// renderMessage returns nil when there is nothing to post.
func renderMessage(msg bus.OutboundMessage) *discordgo.MessageSend {
	switch msg.Kind {
	case bus.KindAbsenceNotice:
		if len(msg.Absentees) == 0 {
			return nil
		}
		return &discordgo.MessageSend{
			Content: absenceNotice(msg.Absentees),
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
			},
		}
	case bus.KindParticipation:
		return &discordgo.MessageSend{Embeds: participationEmbeds(msg.Participation)}
	case bus.KindDateCheck:
		if msg.DateCheck == nil {
			return nil
		}
		return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{dateCheckEmbed(msg.DateCheck)}}
	case bus.KindFailure:
		content := msg.Content
		if content == "" {
			content = msgFailure
		}
		return &discordgo.MessageSend{Content: content}
	default:
		if strings.TrimSpace(msg.Content) == "" {
			return nil
		}
		return &discordgo.MessageSend{Content: clip(msg.Content, maxMessageLength)}
	}
}
