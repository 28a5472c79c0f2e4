package manager

// taskQueue is a FIFO of queued tasks. Callers hold Manager.mu.
type taskQueue struct {
	items []*task
}

func newTaskQueue() *taskQueue { return &taskQueue{} }

func (q *taskQueue) push(t *task) {
	q.items = append(q.items, t)
	poolQueueDepth.Inc()
}

// remove drops a task by id and reports whether it was queued.
func (q *taskQueue) remove(id string) bool {
	for i, t := range q.items {
		if t.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			poolQueueDepth.Dec()
			return true
		}
	}
	return false
}

func (q *taskQueue) len() int { return len(q.items) }

// snapshot returns the queued tasks oldest first.
func (q *taskQueue) snapshot() []*task {
	out := make([]*task, len(q.items))
	copy(out, q.items)
	return out
}

// drain empties the queue and returns what it held.
func (q *taskQueue) drain() []*task {
	out := q.items
	q.items = nil
	poolQueueDepth.Sub(float64(len(out)))
	return out
}
