package snowflake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// The node and step fields together stay below one million, so an id maps to
// a distinct nanosecond inside its millisecond. Time and LowerBound are exact
// inverses of each other.
const (
	nodeBits        = 7
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	subMask         = -1 ^ (-1 << timeShift)
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC

	// Prefix is prepended to formatted message ids.
	Prefix = "msg"
	width  = 19
)

var ErrInvalidID = errors.New("invalid message id")

type Node struct {
	mu    sync.Mutex
	time  int64
	node  int64
	step  int64
	epoch int64
	now   func() time.Time
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 127")
	}
	return &Node{
		time:  0,
		node:  node,
		step:  0,
		epoch: epoch,
		now:   time.Now,
	}, nil
}

// WithClock replaces the time source, for tests.
func (n *Node) WithClock(now func() time.Time) *Node {
	n.now = now
	return n
}

// Generate returns the next id. Ids from one node are strictly increasing
// even if the clock moves backwards.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now().UnixMilli()

	if now < n.time {
		// Clock moved backwards, keep issuing from the last seen millisecond
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// Sequence exhausted for this millisecond, borrow the next one
			now++
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - n.epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Format renders an id as "msg" + 19 zero-padded digits so that the string
// order matches the numeric order.
func Format(id int64) string {
	return fmt.Sprintf("%s%0*d", Prefix, width, id)
}

func Parse(s string) (int64, error) {
	if !strings.HasPrefix(s, Prefix) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(s, Prefix), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

// Time is the creation time encoded in an id: its millisecond plus the node
// and step fields as nanoseconds. Ids and times sort the same way.
func Time(id int64) time.Time {
	ms := (id >> timeShift) + epoch
	return time.UnixMilli(ms).Add(time.Duration(id & subMask)).UTC()
}

// LowerBound is the smallest id whose Time is not before t, so
// Time(id).Before(t) holds exactly when id < LowerBound(t).
func LowerBound(t time.Time) int64 {
	ns := t.UnixNano() - epoch*int64(time.Millisecond)
	if ns <= 0 {
		return 0
	}
	ms, sub := ns/int64(time.Millisecond), ns%int64(time.Millisecond)
	if sub > subMask {
		ms, sub = ms+1, 0
	}
	return ms<<timeShift | sub
}
