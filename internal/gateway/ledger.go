package gateway

import (
	"context"
	"fmt"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/channel"
	"github.com/MurHyun2/discord-study-bot/internal/config"
)

// Ledger is a REST-only view of the study channel for one-shot commands. It
// never opens the gateway websocket and never posts.
type Ledger struct {
	*attendance.Service
	discord *channel.DiscordChannel
}

// OpenLedger connects to Discord and resolves the study channel. A nil
// factory uses the real session.
func OpenLedger(ctx context.Context, cfg *config.Config, factory channel.SessionFactory) (*Ledger, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	parser := newParser(cfg, loc)

	var dc *channel.DiscordChannel
	if factory == nil {
		dc, err = channel.NewDiscordChannel(cfg.Discord, parser, loc, nil)
	} else {
		dc, err = channel.NewDiscordChannelWithFactory(cfg.Discord, parser, loc, nil, factory)
	}
	if err != nil {
		return nil, err
	}
	if err := dc.Connect(ctx); err != nil {
		_ = dc.Stop()
		return nil, err
	}

	svc := attendance.NewService(attendance.Options{
		Source:    dc,
		Directory: dc,
		Parser:    parser,
		ChannelID: cfg.Discord.ChannelID,
		GuildID:   cfg.Discord.GuildID,
		Location:  loc,
		History:   cfg.ReadOptions(),
	})
	return &Ledger{Service: svc, discord: dc}, nil
}

func (l *Ledger) Close() error {
	return l.discord.Stop()
}
