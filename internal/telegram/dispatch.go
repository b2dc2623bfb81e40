package telegram

import "sync"

// dispatcher runs the jobs of one user in submission order, one at a time.
// Jobs of different users run in parallel.
type dispatcher struct {
	mu     sync.Mutex
	queues map[int64][]func()
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher() *dispatcher {
	return &dispatcher{queues: make(map[int64][]func())}
}

// submit queues fn behind the user's earlier jobs. It reports false once
// the dispatcher is closed.
func (d *dispatcher) submit(userID int64, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	// a present key means a worker is draining that queue
	q, running := d.queues[userID]
	d.queues[userID] = append(q, fn)
	if !running {
		d.wg.Add(1)
		go d.drain(userID)
	}
	return true
}

func (d *dispatcher) drain(userID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[userID]
		if len(q) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		fn := q[0]
		d.queues[userID] = q[1:]
		d.mu.Unlock()

		fn()
	}
}

// close stops accepting jobs and waits for the queued ones to finish.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
