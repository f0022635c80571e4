package rollover

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

// CheckFunc runs the absence check for the day that just ended.
type CheckFunc func(ctx context.Context, day ledger.Date) error

// State of the detector.
type State int

const (
	Idle State = iota
	Checking
)

func (s State) String() string {
	if s == Checking {
		return "checking"
	}
	return "idle"
}

// Detector fires CheckFunc once each time the reference calendar date
// advances. It compares dates, not ticks, so extra ticks within one date
// never fire twice.
type Detector struct {
	mu    sync.Mutex
	loc   *time.Location
	now   func() time.Time
	check CheckFunc
	last  ledger.Date
	state State
	// OnResult, if set, observes every fired check.
	OnResult func(day ledger.Date, err error)
}

// NewDetector seeds the last observed date with the current date.
func NewDetector(loc *time.Location, now func() time.Time, check CheckFunc) *Detector {
	if now == nil {
		now = time.Now
	}
	d := &Detector{loc: loc, now: now, check: check}
	d.last = ledger.DateOf(now(), loc)
	return d
}

// LastObserved is the date the detector currently considers "today".
func (d *Detector) LastObserved() ledger.Date {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Tick evaluates one rollover. It reports whether a check fired. A failing
// or panicking check is logged; the observed date still advances so the same
// day is never retried.
func (d *Detector) Tick(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := ledger.DateOf(d.now(), d.loc)
	if current == d.last {
		return false
	}

	ended := d.last
	log.Printf("[rollover] date changed: %s -> %s", ended, current)
	d.state = Checking
	err := d.runCheck(ctx, ended)
	if err != nil {
		log.Printf("[rollover] absence check for %s failed: %v", ended, err)
	}
	d.last = current
	d.state = Idle
	if d.OnResult != nil {
		d.OnResult(ended, err)
	}
	return true
}

func (d *Detector) runCheck(ctx context.Context, day ledger.Date) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if d.check == nil {
		return nil
	}
	return d.check(ctx, day)
}
