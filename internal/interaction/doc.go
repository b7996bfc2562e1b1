// Package interaction models one tracked soft navigation ("interaction")
// and its lifecycle.
//
// # State Machine
//
//	OPEN ──(URL + DOM seen | explicit end | force save)──▶ FIN
//	OPEN ──(superseded | timeout | ignore | cancel)──────▶ CANCELLED
//
// Both terminal states are final. Exactly one of the finished or cancelled
// subscriber lists is drained, once, at the transition; the other is
// discarded. Subscribers added after the transition run immediately if
// they match the terminal state.
//
// The initial page load is represented by the same type with a reduced
// status space (it can only finish).
//
// # Wire Encoding
//
// Finished interactions are encoded into the "bel.7" batch format, see
// encode.go.
package interaction
