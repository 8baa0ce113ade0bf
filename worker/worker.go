// Package worker runs acquisition loops on their own goroutines with a
// cooperative stop and a bounded join.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type Worker struct {
	Name string

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start runs fn on a new goroutine. fn must return soon after its context is cancelled.
func Start(ctx context.Context, name string, fn func(context.Context) error) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		Name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		defer cancel()
		err := fn(ctx)
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		if err != nil {
			glog.Warningf("worker %s stopped: %s", name, err)
			return
		}
		glog.Infof("worker %s stopped", name)
	}()
	return w
}

// Stop signals the worker to exit. It does not wait.
func (w *Worker) Stop() {
	w.cancel()
}

// Join waits up to timeout for the worker to exit and reports whether it did.
func (w *Worker) Join(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		return true
	case <-t.C:
		return false
	}
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Err is the error the worker exited with, nil while it is running.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Group tracks the workers of one acquisition session.
type Group struct {
	mu      sync.Mutex
	workers []*Worker
}

func (g *Group) Start(ctx context.Context, name string, fn func(context.Context) error) *Worker {
	w := Start(ctx, name, fn)
	g.mu.Lock()
	g.workers = append(g.workers, w)
	g.mu.Unlock()
	return w
}

func (g *Group) Workers() []*Worker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Worker(nil), g.workers...)
}

// StopAll signals every worker first, then joins each with the given
// timeout. It returns the names of workers that did not exit in time.
func (g *Group) StopAll(timeout time.Duration) []string {
	workers := g.Workers()
	for _, w := range workers {
		w.Stop()
	}
	var stuck []string
	for _, w := range workers {
		if !w.Join(timeout) {
			glog.Warningf("worker %s did not stop within %s", w.Name, timeout)
			stuck = append(stuck, w.Name)
		}
	}
	return stuck
}
