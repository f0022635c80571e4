package attendance

import "github.com/MurHyun2/discord-study-bot/internal/ledger"

// Participation is one member's attendance over their tenure.
//
// ParticipatedDays only counts days found in the scanned history window, so
// it undercounts members whose older records fall beyond the history cap.
// The reverse can also happen: records that predate a rejoin are still
// counted, which may push Ratio above 100. Neither case is corrected.
type Participation struct {
	Member           Member
	ParticipatedDays int
	TotalDays        int
	// Ratio is a percentage.
	Ratio float64
}

// Rate computes the participation of m up to and including today.
func Rate(m Member, idx *ledger.Index, today ledger.Date) Participation {
	p := Participation{Member: m, ParticipatedDays: idx.CountFor(m.ID)}

	total := today.DaysSince(m.JoinDate) + 1
	if total <= 0 {
		// Join date after today (clock skew between us and the platform).
		p.TotalDays = 1
		return p
	}
	p.TotalDays = total
	p.Ratio = float64(p.ParticipatedDays) / float64(total) * 100
	return p
}

// Rates computes Rate for every non-bot member, in roster order.
func Rates(roster []Member, idx *ledger.Index, today ledger.Date) []Participation {
	out := make([]Participation, 0, len(roster))
	for _, m := range roster {
		if m.Bot {
			continue
		}
		out = append(out, Rate(m, idx, today))
	}
	return out
}
