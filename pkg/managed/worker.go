package managed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/loader"
)

type timeoutTask struct {
	deadline time.Time
	cancel   context.CancelFunc
	done     <-chan struct{}
}

// timeoutWorker cancels calls that run past their deadline. One worker is
// shared by the whole process and started lazily by the first timed call,
// inheriting the caller's boundary as context loader.
type timeoutWorker struct {
	thread *census.Thread
	tasks  chan timeoutTask
}

var (
	workerMu  sync.Mutex
	worker    *timeoutWorker
	workerSeq int
)

func timeoutWorkerFor(boundary *loader.Context) *timeoutWorker {
	workerMu.Lock()
	defer workerMu.Unlock()

	if worker != nil && worker.thread.Alive() {
		return worker
	}

	workerSeq++
	w := &timeoutWorker{tasks: make(chan timeoutTask)}
	name := fmt.Sprintf("%s-%d-%s1", WorkerThreadMarker, workerSeq, WorkerThreadPart)
	w.thread = census.Go(census.System(), name, boundary, w.run)
	worker = w
	return w
}

// StopTimeoutWorker stops the shared worker if it is running. Calls
// scheduled afterwards start a new one.
func StopTimeoutWorker() {
	workerMu.Lock()
	w := worker
	worker = nil
	workerMu.Unlock()

	if w != nil {
		w.thread.Interrupt()
		w.thread.Join(time.Second)
	}
}

func (w *timeoutWorker) schedule(deadline time.Time, cancel context.CancelFunc, done <-chan struct{}) {
	select {
	case w.tasks <- timeoutTask{deadline: deadline, cancel: cancel, done: done}:
	case <-w.thread.Done():
		// worker gone; cancel at the deadline without it
		time.AfterFunc(time.Until(deadline), cancel)
	}
}

func (w *timeoutWorker) run(ctx context.Context) {
	var pending []timeoutTask
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := time.Now()
		kept := pending[:0]
		next := now.Add(time.Hour)
		for _, task := range pending {
			select {
			case <-task.done:
				continue
			default:
			}
			if !task.deadline.After(now) {
				task.cancel()
				continue
			}
			if task.deadline.Before(next) {
				next = task.deadline
			}
			kept = append(kept, task)
		}
		pending = kept

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(next))

		select {
		case <-ctx.Done():
			for _, task := range pending {
				task.cancel()
			}
			return
		case task := <-w.tasks:
			pending = append(pending, task)
		case <-timer.C:
		}
	}
}
