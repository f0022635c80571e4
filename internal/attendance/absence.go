package attendance

import "github.com/MurHyun2/discord-study-bot/internal/ledger"

// Absentees returns the non-bot roster members without a record on day, in
// roster order.
func Absentees(roster []Member, idx *ledger.Index, day ledger.Date) []Member {
	out := make([]Member, 0)
	for _, m := range roster {
		if m.Bot {
			continue
		}
		if !idx.ParticipatedOn(m.ID, day) {
			out = append(out, m)
		}
	}
	return out
}

// Participant is a member who recorded on the checked day, with the content
// of their kept record.
type Participant struct {
	Member  Member
	Content string
}

// DateCheck is the participation status of one day.
type DateCheck struct {
	Day          ledger.Date
	Participants []Participant
	Absentees    []Member
}

// CheckDate splits the roster into participants and absentees for day.
// Records of ids missing from the roster are ignored.
func CheckDate(roster []Member, idx *ledger.Index, day ledger.Date) DateCheck {
	check := DateCheck{Day: day, Participants: make([]Participant, 0), Absentees: make([]Member, 0)}
	for _, m := range roster {
		if m.Bot {
			continue
		}
		rec, ok := idx.Record(m.ID, day)
		if !ok {
			check.Absentees = append(check.Absentees, m)
			continue
		}
		check.Participants = append(check.Participants, Participant{Member: m, Content: rec.Content})
	}
	return check
}
