package transform

// DefaultLogLimit is how many operations a Log keeps per file.
const DefaultLogLimit = 100

// Pending is an operation that has already been relayed for a file, kept so
// later concurrent operations can be shifted against it.
type Pending struct {
	Op        Operation
	ConnID    string
	Timestamp int64
}

// Adjust shifts op against every entry in prior whose timestamp is strictly
// less than ts, oldest first. It reports whether the offset moved.
//
// This is a positional heuristic, not a convergent transform: concurrent
// delete/delete pairs are left untouched and only the bounded history is
// consulted.
func Adjust(op Operation, ts int64, prior []Pending) (Operation, bool) {
	out := op
	for _, p := range prior {
		if p.Timestamp >= ts {
			continue
		}
		out.Offset = shift(out, p.Op)
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out, out.Offset != op.Offset
}

func shift(in, prior Operation) int {
	switch {
	case in.Kind == Insert && prior.Kind == Insert:
		if prior.Offset <= in.Offset {
			return in.Offset + prior.Len()
		}
	case in.Kind == Insert && prior.Kind == Delete:
		if prior.Offset < in.Offset {
			return in.Offset - prior.Len()
		}
	case in.Kind == Delete && prior.Kind == Insert:
		if prior.Offset <= in.Offset {
			return in.Offset + prior.Len()
		}
	}
	// delete vs delete is not transformed.
	return in.Offset
}

// Log is a bounded FIFO of pending operations for one file. It is not safe for
// concurrent use; callers serialise access.
type Log struct {
	limit   int
	entries []Pending
}

func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return &Log{limit: limit}
}

// Append adds p and drops the oldest entries beyond the limit.
func (l *Log) Append(p Pending) {
	l.entries = append(l.entries, p)
	if over := len(l.entries) - l.limit; over > 0 {
		// copy so the backing array does not grow without bound
		l.entries = append([]Pending(nil), l.entries[over:]...)
	}
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Pending {
	out := make([]Pending, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int { return len(l.entries) }

// Submit adjusts op against the log, appends the adjusted op and returns it.
func (l *Log) Submit(op Operation, connID string, ts int64) (Operation, bool) {
	adjusted, moved := Adjust(op, ts, l.entries)
	l.Append(Pending{Op: adjusted, ConnID: connID, Timestamp: ts})
	return adjusted, moved
}
