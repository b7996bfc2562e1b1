// Package testutil provides deterministic helpers for tests and the
// scenario harness: a sequential id generator and recording stand-ins for
// the coordinator's outbound collaborators.
package testutil
