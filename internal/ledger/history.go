package ledger

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultPageSize = 100
	DefaultMaxTotal = 10000
)

// MessageSource reads channel history backwards in time. beforeID is empty
// for the newest page and otherwise the id of the oldest message already
// returned. Pages are reverse-chronological.
type MessageSource interface {
	RetrievePast(ctx context.Context, channelID, beforeID string, limit int) ([]RawMessage, error)
}

// TransportError reports a failure reaching the message source or the member
// directory. The surrounding computation is abandoned.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ReadOptions bounds one history read.
type ReadOptions struct {
	PageSize int
	// MaxTotal is a hard cap; older history is not seen.
	MaxTotal int
	// Since, when set, stops paging once a page contains a message older
	// than it. Messages older than Since may still be returned.
	Since time.Time
}

func (o ReadOptions) normalized() ReadOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxTotal <= 0 {
		o.MaxTotal = DefaultMaxTotal
	}
	return o
}

// ReadHistory pages through the channel from now backwards until MaxTotal
// messages were read or the source runs dry. Any source error aborts the
// read; no partial result is returned.
func ReadHistory(ctx context.Context, src MessageSource, channelID string, opts ReadOptions) ([]RawMessage, error) {
	opts = opts.normalized()

	var (
		out    = make([]RawMessage, 0, min(opts.MaxTotal, opts.PageSize*4))
		before string
	)
	for len(out) < opts.MaxTotal {
		want := min(opts.PageSize, opts.MaxTotal-len(out))
		page, err := src.RetrievePast(ctx, channelID, before, want)
		if err != nil {
			return nil, &TransportError{Op: "retrieve channel history", Err: err}
		}
		if len(page) > want {
			page = page[:want]
		}
		out = append(out, page...)
		if len(page) < want {
			break
		}
		oldest := page[len(page)-1]
		if !opts.Since.IsZero() && oldest.Timestamp.Before(opts.Since) {
			break
		}
		before = oldest.ID
	}
	return out, nil
}
