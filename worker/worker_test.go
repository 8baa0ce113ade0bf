package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStopAndJoin(t *testing.T) {
	w := Start(context.Background(), "loop", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if !w.Alive() {
		t.Fatal("worker not alive after Start")
	}
	if w.Join(10 * time.Millisecond) {
		t.Fatal("Join() returned true for a running worker")
	}
	w.Stop()
	if !w.Join(time.Second) {
		t.Fatal("worker did not stop")
	}
	if w.Alive() || w.Err() != nil {
		t.Errorf("Alive() = %t, Err() = %v after stop", w.Alive(), w.Err())
	}
}

func TestErr(t *testing.T) {
	boom := errors.New("boom")
	w := Start(context.Background(), "failing", func(context.Context) error { return boom })
	if !w.Join(time.Second) {
		t.Fatal("worker did not exit")
	}
	if !errors.Is(w.Err(), boom) {
		t.Errorf("Err() = %v, want %v", w.Err(), boom)
	}
}

func TestGroupStopAll(t *testing.T) {
	var g Group
	release := make(chan struct{})
	defer close(release)
	g.Start(context.Background(), "cooperative", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Start(context.Background(), "blocked", func(context.Context) error {
		<-release
		return nil
	})
	stuck := g.StopAll(50 * time.Millisecond)
	if len(stuck) != 1 || stuck[0] != "blocked" {
		t.Errorf("StopAll() = %v, want [blocked]", stuck)
	}
	if len(g.Workers()) != 2 {
		t.Errorf("Workers() has %d entries, want 2", len(g.Workers()))
	}
}
