package attendance

import (
	"context"
	"sort"

	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

// Member is one roster entry, a snapshot valid for a single computation.
type Member struct {
	ID          string
	DisplayName string
	JoinDate    ledger.Date
	Bot         bool
}

// Mention renders the platform mention for m.
func (m Member) Mention() string {
	return "<@" + m.ID + ">"
}

// Directory lists the members of a guild. It is queried fresh for every
// computation.
type Directory interface {
	ListMembers(ctx context.Context, guildID string) ([]Member, error)
}

// Humans drops bot accounts, keeping order.
func Humans(members []Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if !m.Bot {
			out = append(out, m)
		}
	}
	return out
}

// SortByName orders members by display name, then id, in place.
func SortByName(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].DisplayName != members[j].DisplayName {
			return members[i].DisplayName < members[j].DisplayName
		}
		return members[i].ID < members[j].ID
	})
}
