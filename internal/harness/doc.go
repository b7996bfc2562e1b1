// Package harness replays soft navigation scenarios against the coordinator.
//
// A scenario is a YAML file describing a page life as a timeline of browser
// notifications, API calls and harvest cycles. The harness feeds the timeline
// into a Coordinator running on a manual clock, records every lifecycle
// transition into a trace, collects the harvested payloads and evaluates the
// scenario's assertions against both.
//
// # Scenario Format
//
//	name: route_change
//	description: "Click, URL change and DOM mutation produce a route change"
//	origin_time: 1700000000000
//	bootstrap:
//	  date: "Tue, 14 Nov 2023 22:13:20 GMT"
//	  request_start: 10
//	  response_start: 30
//	steps:
//	  - at: 120
//	    page_load: 120
//	  - at: 1000
//	    ui: { type: click, target: { tag: a, text: Checkout } }
//	  - at: 1200
//	    url: https://app.example/checkout
//	  - at: 1300
//	    dom: true
//	  - at: 2000
//	    harvest: { retry: true }
//	assertions:
//	  - type: status
//	    id: ixn-2
//	    status: FIN
//	  - type: payload_contains
//	    text: "'Route change"
//
// Every step moves the manual clock to its "at" time first, firing any
// timers that fall due on the way (idle timeouts, deferred API callbacks).
// A step without "at" runs at the current time.
//
// # Assertion Types
//
//   - status: an interaction ends in the given status, optionally with a
//     category, start or end
//   - trace_contains: the trace has an event of the given kind (and id)
//   - trace_order: the given events appear in order
//   - trace_count: an event kind appears exactly N times
//   - payload_contains: some harvested payload contains the text
//   - payload_count: exactly N non-empty payloads were harvested
//
// # Determinism
//
// Interaction ids come from testutil.SequenceGenerator and time from
// sched.Manual, so the same scenario always yields the same trace and the
// same payload bytes. RunWithGolden compares both against a golden file.
package harness
