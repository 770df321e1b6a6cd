/*
Package event provides a type-safe pub/sub event bus used to decouple the
session manager, debugger driver, and AI loop from anything that wants to
observe them (the SSE transport, logging, future metrics).

# Architecture

The package is built on top of watermill's gochannel for the underlying
fan-out, while keeping direct-call semantics so subscribers get typed Event
data instead of re-marshaling JSON.

# Event types

	session.created / .updated / .deleted / .idle  — session lifecycle
	dump.opened / dump.closed                       — debugger attach/detach
	report.generated                                — a report section changed
	watch.added / .updated / .removed               — a watch definition changed
	ai.iteration / ai.checkpoint                    — AI loop progress
	debugger.lost                                   — the debugger process died unexpectedly

# Basic usage

	event.PublishSync(event.Event{
		Type: event.DumpOpened,
		Data: event.DumpOpenedData{SessionID: id, DumpID: dumpID},
	})

	unsubscribe := event.Subscribe(event.DumpOpened, func(e event.Event) {
		data := e.Data.(event.DumpOpenedData)
		log.Info().Str("dumpID", data.DumpID).Msg("dump opened")
	})
	defer unsubscribe()

# Subscriber safety

PublishSync runs subscribers synchronously in the publisher's goroutine.
Subscribers must complete quickly, use non-blocking sends, and never call
Publish/PublishSync or acquire a lock the publisher might hold.

# Custom bus instances

	bus := event.NewBus()
	defer bus.Close()

# Thread safety

The bus is safe for concurrent publish/subscribe from multiple goroutines.
*/
package event
