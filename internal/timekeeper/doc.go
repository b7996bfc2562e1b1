// Package timekeeper estimates the offset between the local clock and the
// monitoring backend's clock.
//
// The estimate is taken once, from the agent's bootstrap exchange: the
// response Date header gives the server time and the resource-timing entry
// of the same request gives the local time at which the server most likely
// produced that header (the midpoint of the request). Every later timestamp
// is translated through that fixed offset; there is no resynchronization.
//
// # Estimation
//
// When the timing entry exposes detailed timings (ResponseStart != 0) the
// server instant is estimated as requestStart + (responseStart-requestStart)/2.
// Otherwise the coarser fetchStart + (responseEnd-fetchStart)/2 is used.
//
//	correctedOriginTime = floor(Date - estimate)
//	localTimeDiff       = originTime - correctedOriginTime
//
// # Errors
//
// All failures are *SyncError values and are fatal to the caller: the agent
// must fall back to local timestamps.
package timekeeper
