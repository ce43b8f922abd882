// Package streaming implements the per-connection stream state machine
// from spec.md §4.10: Resolving start, Historical, Tail, Live, with
// heartbeats and bounded-channel backpressure.
//
// Grounded on original_source/node/src/stream/{mod,producers,response}.rs
// (the BatchCursor Finalized/Accepted/Pending split and the SendData
// shape carried over unchanged into package scanner) and on
// original_source/common/src/server/stream_with_heartbeat.rs for the
// heartbeat-interleaving wrapper, and on Prysm's
// beacon-chain/rpc/beacon.StreamChainHead for the per-connection
// goroutine + select-on-subscription-channel idiom.
package streaming

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/chainview"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/scanner"
)

var log = logrus.WithField("prefix", "streaming")

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultChannelDepth      = 128
)

// State is the coarse phase a Session is in, per spec.md §4.10.
type State int

const (
	ResolvingStart State = iota
	Historical
	Tail
	Live
)

func (s State) String() string {
	switch s {
	case ResolvingStart:
		return "resolving_start"
	case Historical:
		return "historical"
	case Tail:
		return "tail"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// MessageKind tags the variant carried by a Message.
type MessageKind int

const (
	KindData MessageKind = iota
	KindFinalize
	KindInvalidate
	KindHeartbeat
	KindSystemMessage
)

// Message is one item emitted on a Session's output channel.
type Message struct {
	Kind          MessageKind
	Data          *scanner.SendData
	Cursor        cursor.Cursor // Finalize / Invalidate payload
	SystemMessage string
}

// Request is one client StreamDataRequest, chain-agnostic: filter
// compilation from wire bytes happens in the chain plugin before a
// Request reaches this package.
type Request struct {
	StartingCursor *cursor.Cursor
	Filter         filter.BlockFilter
}

// Config parameterizes a Session.
type Config struct {
	HeartbeatInterval time.Duration
	ChannelDepth      int
	SegmentSize       uint64
	GroupSize         uint64
	StartingBlock     uint64
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ChannelDepth == 0 {
		c.ChannelDepth = defaultChannelDepth
	}
	return c
}

// Session drives one client connection's state machine.
type Session struct {
	cfg      Config
	cv       *chainview.ChainView
	sc       *scanner.Scanner
	store    objectstore.Store
	chainLog *chain.Log
}

func NewSession(cfg Config, cv *chainview.ChainView, sc *scanner.Scanner, store objectstore.Store, chainLog *chain.Log) *Session {
	return &Session{cfg: cfg.withDefaults(), cv: cv, sc: sc, store: store, chainLog: chainLog}
}

// Start validates req, launches the state machine in a goroutine, and
// returns the heartbeat-interleaved output channel. The channel is
// closed when ctx is done or the state machine exits.
func (s *Session) Start(ctx context.Context, req Request) (<-chan Message, error) {
	start, err := s.resolveStart(ctx, req.StartingCursor)
	if err != nil {
		return nil, err
	}

	inner := make(chan Message, s.cfg.ChannelDepth)
	go func() {
		defer close(inner)
		if err := s.run(ctx, start, req.Filter, inner); err != nil && err != context.Canceled {
			log.WithError(err).Warn("stream session ended with error")
		}
	}()

	return s.withHeartbeat(ctx, inner), nil
}

// resolveStart implements spec.md §4.10's "Resolving start" state: a
// nil starting cursor begins at the configured starting block; a
// provided one must refer to a known canonical block at or below head.
func (s *Session) resolveStart(ctx context.Context, starting *cursor.Cursor) (uint64, error) {
	if starting == nil {
		return s.cfg.StartingBlock, nil
	}
	canonical, err := s.cv.GetCanonical(ctx, starting.Number)
	if err != nil {
		return 0, dnaerr.Wrap(err, dnaerr.BadInput, "streaming: starting cursor is not a known canonical block")
	}
	if !starting.IsFinalizedOnly() && !starting.Equal(canonical) {
		return 0, dnaerr.Newf(dnaerr.BadInput, "streaming: starting cursor %s does not match canonical %s", starting, canonical)
	}
	return starting.Number + 1, nil
}

func (s *Session) withHeartbeat(ctx context.Context, in <-chan Message) <-chan Message {
	out := make(chan Message, s.cfg.ChannelDepth)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
				ticker.Reset(s.cfg.HeartbeatInterval)
			case <-ticker.C:
				select {
				case out <- Message{Kind: KindHeartbeat}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// run is the main state-machine loop. cur is the next block number to
// emit.
func (s *Session) run(ctx context.Context, cur uint64, bf filter.BlockFilter, out chan<- Message) error {
	state := Historical
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch state {
		case Historical:
			next, err := s.runHistorical(ctx, cur, bf, out)
			if err != nil {
				return err
			}
			cur = next
			state = Tail

		case Tail:
			next, err := s.runTail(ctx, cur, bf, out)
			if err != nil {
				return err
			}
			cur = next
			state = Live

		case Live:
			reset, err := s.runLive(ctx, cur, bf, out)
			if err != nil {
				return err
			}
			if reset == nil {
				return nil
			}
			cur = *reset
			state = Historical

		default:
			return errors.Errorf("streaming: unexpected state %s", state)
		}
	}
}

// runHistorical implements spec.md §4.10 state 2: while cur <= grouped,
// scan whole groups (group prune + segment scan); while grouped < cur
// <= segmented, scan individual segments directly. Returns the next
// cursor once cur exceeds segmented.
func (s *Session) runHistorical(ctx context.Context, cur uint64, bf filter.BlockFilter, out chan<- Message) (uint64, error) {
	span := s.cfg.SegmentSize * s.cfg.GroupSize

	for cur <= s.cv.Grouped() && span > 0 {
		groupStart := groupStartFor(s.cfg.StartingBlock, span, cur)
		results, err := s.sc.ScanGroup(ctx, groupStart, s.cfg.GroupSize, bf)
		if err != nil {
			return 0, errors.Wrapf(err, "streaming: scan group at %d", groupStart)
		}
		cur = emitFrom(ctx, out, results, cur, groupStart+span)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}

	for cur <= s.cv.Segmented() && s.cfg.SegmentSize > 0 {
		segStart := segmentStartFor(s.cfg.StartingBlock, s.cfg.SegmentSize, cur)
		results, err := s.sc.ScanSegment(ctx, segStart, nil, bf)
		if err != nil {
			return 0, errors.Wrapf(err, "streaming: scan segment at %d", segStart)
		}
		cur = emitFrom(ctx, out, results, cur, segStart+s.cfg.SegmentSize)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}

	return cur, nil
}

// emitFrom sends every result at or above cur, returns the cursor to
// resume from (the end of the scanned range). A send aborts early if
// ctx ends first, so a cancelled consumer can't block this goroutine
// forever against a full channel.
func emitFrom(ctx context.Context, out chan<- Message, results []scanner.SendData, cur, rangeEnd uint64) uint64 {
	for i := range results {
		if results[i].Cursor.Number < cur {
			continue
		}
		select {
		case out <- Message{Kind: KindData, Data: &results[i]}:
		case <-ctx.Done():
			return rangeEnd
		}
	}
	return rangeEnd
}

// runTail implements spec.md §4.10 state 3: read single-block blobs one
// height at a time up to the current head.
func (s *Session) runTail(ctx context.Context, cur uint64, bf filter.BlockFilter, out chan<- Message) (uint64, error) {
	for cur <= s.cv.Head().Number {
		entry, err := s.chainLog.Get(ctx, cur)
		if err != nil {
			return 0, errors.Wrapf(err, "streaming: read canonical entry at %d", cur)
		}
		obj, err := s.store.Get(ctx, objectstore.BlockKey(cur, entry.Cursor().HashHex()[2:]), objectstore.GetOptions{})
		if err != nil {
			return 0, errors.Wrapf(err, "streaming: read block blob at %d", cur)
		}
		view, err := fragment.OpenBlock(obj.Data)
		if err != nil {
			return 0, err
		}
		data, err := s.sc.ScanSingleBlock(ctx, view, entry.Cursor(), bf)
		if err != nil {
			return 0, err
		}
		select {
		case out <- Message{Kind: KindData, Data: &data}:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		cur++
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return cur, nil
}

// runLive implements spec.md §4.10 state 4: subscribe to the chain
// view's ChainChange stream and react to each variant. It returns a
// non-nil cursor to resume Historical from when a reorg invalidates the
// stream's current position, or nil when ctx ends.
func (s *Session) runLive(ctx context.Context, cur uint64, bf filter.BlockFilter, out chan<- Message) (*uint64, error) {
	changes := s.cv.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return nil, nil
			}
			switch change.Kind {
			case chainview.Initialize:
				// Already resolved via cv.Head()/cv.Segmented() before
				// entering Live; nothing further to do.
			case chainview.NewHead:
				if change.Cursor.Number < cur {
					continue
				}
				next, err := s.runTail(ctx, cur, bf, out)
				if err != nil {
					return nil, err
				}
				cur = next
			case chainview.NewFinalized:
				select {
				case out <- Message{Kind: KindFinalize, Cursor: change.Finalized}:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			case chainview.Invalidate:
				select {
				case out <- Message{Kind: KindInvalidate, Cursor: change.Cursor}:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				reset := change.Cursor.Number + 1
				return &reset, nil
			}
		}
	}
}

func groupStartFor(startingBlock, span, number uint64) uint64 {
	if span == 0 {
		return startingBlock
	}
	offset := (number - startingBlock) / span
	return startingBlock + offset*span
}

func segmentStartFor(startingBlock, segmentSize, number uint64) uint64 {
	if segmentSize == 0 {
		return startingBlock
	}
	offset := (number - startingBlock) / segmentSize
	return startingBlock + offset*segmentSize
}
