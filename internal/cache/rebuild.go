package cache

import "sync"

// RebuildPool runs asynchronous cache rebuilds on a fixed number of workers
// with a bounded queue. When the queue is full TrySubmit refuses the task and
// the caller sheds the rebuild; a later stale read will retry it.
type RebuildPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func NewRebuildPool(workers, depth int) *RebuildPool {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 1024
	}

	p := &RebuildPool{tasks: make(chan func(), depth)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for f := range p.tasks {
				f()
			}
		}()
	}
	return p
}

func (p *RebuildPool) TrySubmit(f func()) bool {
	select {
	case p.tasks <- f:
		return true
	default:
		return false
	}
}

// Close drains queued rebuilds and stops the workers.
func (p *RebuildPool) Close() {
	p.once.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}
