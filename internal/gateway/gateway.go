package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/bus"
	"github.com/MurHyun2/discord-study-bot/internal/channel"
	"github.com/MurHyun2/discord-study-bot/internal/config"
	"github.com/MurHyun2/discord-study-bot/internal/health"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
	"github.com/MurHyun2/discord-study-bot/internal/rollover"
)

const (
	triggerRollover = "rollover"
	discordName     = "discord"
	telegramName    = "telegram"
)

// Options for creating a Gateway
type Options struct {
	SessionFactory channel.SessionFactory
	BotFactory     channel.BotFactory
	SignalChan     chan os.Signal // for testing signal handling
	// Now is overridden in tests.
	Now func() time.Time
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	channels   *channel.ChannelManager
	attendance *attendance.Service
	detector   *rollover.Detector
	rollover   *rollover.Service
	metrics    *health.Metrics
	health     *health.Server
	grace      time.Duration
	signalChan chan os.Signal // for testing

	tasks sync.WaitGroup
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	interval, err := cfg.PollInterval()
	if err != nil {
		return nil, fmt.Errorf("rollover interval: %w", err)
	}
	grace, err := cfg.ShutdownGrace()
	if err != nil {
		return nil, fmt.Errorf("shutdown grace: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		metrics:    health.NewMetrics(),
		grace:      grace,
		signalChan: opts.SignalChan,
	}

	parser := newParser(cfg, loc)
	chMgr, err := channel.NewChannelManagerWithOptions(cfg, parser, loc, g.bus, channel.ManagerOptions{
		SessionFactory: opts.SessionFactory,
		BotFactory:     opts.BotFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	// An empty GuildID falls back to the study channel's guild.
	dc := chMgr.Discord()
	g.attendance = attendance.NewService(attendance.Options{
		Source:    dc,
		Directory: dc,
		Parser:    parser,
		Notifier:  &busNotifier{bus: g.bus},
		ChannelID: cfg.Discord.ChannelID,
		GuildID:   cfg.Discord.GuildID,
		Location:  loc,
		History:   cfg.ReadOptions(),
		Now:       now,
	})

	g.detector = rollover.NewDetector(loc, now, g.runAbsenceCheck)
	g.rollover = rollover.NewService(g.detector, interval)
	g.rollover.OnTick = g.metrics.ObserveTick

	g.health = health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, g.metrics)
	return g, nil
}

func newParser(cfg *config.Config, loc *time.Location) *ledger.Parser {
	return ledger.NewParser(ledger.Mode(cfg.Ledger.Mode), cfg.Ledger.Marker, cfg.Ledger.CommandToken, loc)
}

// busNotifier hands absence notices to every channel that renders them.
type busNotifier struct {
	bus *bus.MessageBus
}

func (n *busNotifier) NotifyAbsentees(ctx context.Context, day ledger.Date, absentees []attendance.Member) error {
	targets := []string{discordName}
	if n.bus.Subscribed(telegramName) {
		targets = append(targets, telegramName)
	}
	for _, name := range targets {
		err := n.bus.Publish(ctx, bus.OutboundMessage{
			Channel:   name,
			Kind:      bus.KindAbsenceNotice,
			Day:       day,
			Absentees: absentees,
		})
		if err != nil {
			return fmt.Errorf("queue absence notice for %s: %w", name, err)
		}
	}
	return nil
}

func (g *Gateway) runAbsenceCheck(ctx context.Context, day ledger.Date) error {
	absent, err := g.attendance.RunAbsenceCheck(ctx, day)
	g.metrics.ObserveAbsenceCheck(triggerRollover, len(absent), err)
	return err
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.health.Start(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}

	if err := g.channels.StartAll(ctx); err != nil {
		g.shutdownHealth()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.bus.Publish(ctx, bus.OutboundMessage{
		Channel: discordName,
		Kind:    bus.KindText,
		Content: channel.StartupMessage,
	}); err != nil {
		log.Printf("[gateway] startup message warning: %v", err)
	}

	if err := g.rollover.Start(ctx); err != nil {
		log.Printf("[gateway] rollover start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running, health on %s", g.health.Addr())

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.tasks.Add(1)
			go func(msg bus.InboundMessage) {
				defer g.tasks.Done()
				g.handleCommand(ctx, msg)
			}(msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleCommand computes one deferred reply. Every command gets exactly one
// outbound message, a failure notice when the computation fails.
func (g *Gateway) handleCommand(ctx context.Context, msg bus.InboundMessage) {
	taskID := uuid.NewString()[:8]
	start := time.Now()
	log.Printf("[gateway] task %s: /%s from %s (%s)", taskID, msg.Command, msg.SessionKey(), msg.SenderID)

	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		ReplyTo: msg.ReplyTo,
	}

	var err error
	switch msg.Command {
	case bus.CommandParticipation:
		var rates []attendance.Participation
		rates, err = g.attendance.Participation(ctx)
		out.Kind = bus.KindParticipation
		out.Participation = rates
	case bus.CommandCheck:
		day := msg.Day
		if day.IsZero() {
			day = g.attendance.Today()
		}
		var dc attendance.DateCheck
		dc, err = g.attendance.CheckDate(ctx, day)
		out.Kind = bus.KindDateCheck
		out.Day = day
		out.DateCheck = &dc
	default:
		err = fmt.Errorf("unsupported command %q", msg.Command)
	}

	g.metrics.ObserveCommand(msg.Command, time.Since(start).Seconds(), err)
	if err != nil {
		log.Printf("[gateway] task %s failed: %s", taskID, truncate(err.Error(), 200))
		out = bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			ReplyTo: msg.ReplyTo,
			Kind:    bus.KindFailure,
		}
	}

	if err := g.bus.Publish(ctx, out); err != nil {
		log.Printf("[gateway] task %s: reply dropped: %v", taskID, err)
		return
	}
	log.Printf("[gateway] task %s done in %s", taskID, time.Since(start).Round(time.Millisecond))
}

// Shutdown stops the rollover timer first, lets running commands finish
// within the grace period, then closes channels and the health server.
func (g *Gateway) Shutdown() error {
	g.rollover.Stop()

	done := make(chan struct{})
	go func() {
		g.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(g.grace):
		log.Printf("[gateway] grace period %s elapsed with commands still running", g.grace)
	}

	_ = g.channels.StopAll()
	g.shutdownHealth()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func (g *Gateway) shutdownHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), g.grace)
	defer cancel()
	if err := g.health.Shutdown(ctx); err != nil {
		log.Printf("[gateway] %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
