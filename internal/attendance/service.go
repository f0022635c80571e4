package attendance

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

// Notifier delivers the aggregated absence notice. It receives plain data;
// rendering belongs to the channel.
type Notifier interface {
	NotifyAbsentees(ctx context.Context, day ledger.Date, absentees []Member) error
}

// Options configures a Service.
type Options struct {
	Source    ledger.MessageSource
	Directory Directory
	Parser    *ledger.Parser
	Notifier  Notifier

	ChannelID string
	GuildID   string
	Location  *time.Location
	History   ledger.ReadOptions

	// Now is overridden in tests.
	Now func() time.Time
}

// Service runs attendance computations. Each call fetches its own roster
// and history snapshot and shares nothing with concurrent calls.
type Service struct {
	opts Options
}

func NewService(opts Options) *Service {
	if opts.Location == nil {
		opts.Location, _ = ledger.LoadLocation(ledger.ReferenceZone)
	}
	if opts.Parser == nil {
		opts.Parser = ledger.NewParser(ledger.ModeEmbed, "", "", opts.Location)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{opts: opts}
}

// Today is the current date in the reference timezone.
func (s *Service) Today() ledger.Date {
	return ledger.DateOf(s.opts.Now(), s.opts.Location)
}

// snapshot loads the human roster and the attendance index concurrently.
// The first failure cancels the other fetch.
func (s *Service) snapshot(ctx context.Context, history ledger.ReadOptions) ([]Member, *ledger.Index, error) {
	var (
		roster []Member
		msgs   []ledger.RawMessage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		members, err := s.opts.Directory.ListMembers(gctx, s.opts.GuildID)
		if err != nil {
			return &ledger.TransportError{Op: "list guild members", Err: err}
		}
		roster = Humans(members)
		return nil
	})
	g.Go(func() error {
		var err error
		msgs, err = ledger.ReadHistory(gctx, s.opts.Source, s.opts.ChannelID, history)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	records := s.opts.Parser.ParseAll(msgs)
	idx := ledger.BuildIndex(records)
	log.Printf("[attendance] snapshot: %d members, %d messages, %d records, %d member-days",
		len(roster), len(msgs), len(records), idx.Len())
	return roster, idx, nil
}

func (s *Service) dayHistory(day ledger.Date) ledger.ReadOptions {
	opts := s.opts.History
	opts.Since = day.Start(s.opts.Location)
	return opts
}

// Participation reports the rate of every member, sorted by display name.
func (s *Service) Participation(ctx context.Context) ([]Participation, error) {
	roster, idx, err := s.snapshot(ctx, s.opts.History)
	if err != nil {
		return nil, err
	}
	SortByName(roster)
	return Rates(roster, idx, s.Today()), nil
}

// CheckDate reports who recorded on day and who did not.
func (s *Service) CheckDate(ctx context.Context, day ledger.Date) (DateCheck, error) {
	roster, idx, err := s.snapshot(ctx, s.dayHistory(day))
	if err != nil {
		return DateCheck{}, err
	}
	SortByName(roster)
	return CheckDate(roster, idx, day), nil
}

// Absentees lists the members without a record on day.
func (s *Service) Absentees(ctx context.Context, day ledger.Date) ([]Member, error) {
	roster, idx, err := s.snapshot(ctx, s.dayHistory(day))
	if err != nil {
		return nil, err
	}
	return Absentees(roster, idx, day), nil
}

// RunAbsenceCheck computes the absentees of day and sends one notice when
// there are any. It returns the absentees it found.
func (s *Service) RunAbsenceCheck(ctx context.Context, day ledger.Date) ([]Member, error) {
	absent, err := s.Absentees(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(absent) == 0 {
		log.Printf("[attendance] %s: everyone recorded", day)
		return absent, nil
	}
	log.Printf("[attendance] %s: %d absentees", day, len(absent))
	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.NotifyAbsentees(ctx, day, absent); err != nil {
			return absent, err
		}
	}
	return absent, nil
}
