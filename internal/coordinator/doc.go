// Package coordinator correlates soft navigations with the activity that
// happens during them.
//
// The Coordinator owns the one in-progress interaction, the initial page
// load episode and the two harvest queues (pending and awaiting retry). It
// consumes observer notifications (UI events, URL changes, DOM mutations),
// attributes AJAX calls and script errors to the interaction that was active
// when they started, and serializes finished interactions for the harvest
// cycle.
//
// Single writer:
//
// A Coordinator is not safe for concurrent use. Every handler, timer fire
// and harvest callback must run on one goroutine. Loop provides that
// goroutine: it drains a FIFO of events and closures, and its Scheduler
// posts timer callbacks back onto the same queue. Tests drive a Coordinator
// directly on a sched.Manual, which fires timers on the caller goroutine.
//
// Attribution lookup (InteractionFor) uses a fixed precedence: the
// in-progress interaction, then pending interactions most recently finished
// first, then the still-open initial page load.
package coordinator
