package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kingrea/lattice-recipes/internal/eventstream"
)

const followCapacity = 256

// follower prints trace events while a run executes. The first event names
// the run to subscribe to; anything routed before the subscription waits in
// the router backlog.
type follower struct {
	router *eventstream.Router
	out    io.Writer
	runs   chan string
	stop   chan struct{}
	done   chan struct{}
	seen   sync.Once
	closed sync.Once
}

func newFollower(out io.Writer, logger *slog.Logger) *follower {
	f := &follower{
		router: eventstream.NewRouter(
			eventstream.RouterWithLogger(logger),
			eventstream.RouterWithSubscriberCapacity(followCapacity),
			eventstream.RouterWithBacklogLimit(followCapacity),
		),
		out:  out,
		runs: make(chan string, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go f.loop()
	return f
}

// Stream fans events out to next and to the follower.
func (f *follower) Stream(next eventstream.Stream) eventstream.Stream {
	return eventstream.NewFanout(next, eventstream.StreamFunc(f.notice), f.router)
}

func (f *follower) notice(_ context.Context, event eventstream.Event) eventstream.Result {
	f.seen.Do(func() { f.runs <- event.Run })
	return eventstream.ResultSuccess
}

func (f *follower) loop() {
	defer close(f.done)
	var run string
	select {
	case run = <-f.runs:
	case <-f.stop:
		select {
		case run = <-f.runs:
		default:
			return
		}
	}
	sub := f.router.Subscribe(run)
	defer sub.Close()
	for {
		select {
		case event := <-sub.Events:
			fmt.Fprintln(f.out, renderEvent(event))
		case <-f.stop:
			for {
				select {
				case event := <-sub.Events:
					fmt.Fprintln(f.out, renderEvent(event))
				default:
					return
				}
			}
		}
	}
}

// Close prints whatever is still queued and stops following. Call it once
// the run has returned.
func (f *follower) Close() {
	f.closed.Do(func() { close(f.stop) })
	<-f.done
}
