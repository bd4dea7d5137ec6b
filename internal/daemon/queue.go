package daemon

import "slices"

// buildQueue is the FIFO of profile names awaiting a worker slot. A name may
// appear at most once; re-enqueue of a queued profile is rejected at push.
// Not safe for concurrent use on its own; every access runs under the engine
// mutex.
type buildQueue struct {
	names []string
}

// push appends name and returns its 1-based queue position. A name already
// present is rejected.
func (q *buildQueue) push(name string) (int, bool) {
	if slices.Contains(q.names, name) {
		return 0, false
	}
	q.names = append(q.names, name)
	return len(q.names), true
}

// pop removes and returns the head of the queue.
func (q *buildQueue) pop() (string, bool) {
	if len(q.names) == 0 {
		return "", false
	}
	head := q.names[0]
	q.names = q.names[1:]
	return head, true
}

// remove deletes name from any position, used when a queued profile is
// deleted before a worker picks it up.
func (q *buildQueue) remove(name string) bool {
	i := slices.Index(q.names, name)
	if i < 0 {
		return false
	}
	q.names = slices.Delete(q.names, i, i+1)
	return true
}

func (q *buildQueue) contains(name string) bool {
	return slices.Contains(q.names, name)
}

func (q *buildQueue) depth() int { return len(q.names) }
