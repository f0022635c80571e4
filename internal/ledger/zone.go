package ledger

import (
	"fmt"
	"time"
)

// ReferenceZone is the timezone every calendar day is derived in.
const ReferenceZone = "Asia/Seoul"

// kstFallback is used when the host has no tzdata. Korea has not observed
// daylight saving time since 1988.
var kstFallback = time.FixedZone("KST", 9*60*60)

// LoadLocation resolves name, falling back to a fixed +09:00 zone for
// Asia/Seoul on hosts without a zoneinfo database.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = ReferenceZone
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == ReferenceZone {
		return kstFallback, nil
	}
	return nil, fmt.Errorf("load timezone %q: %w", name, err)
}
