// Package playerstate keeps the local mirror of one player's on-chain state.
//
// # Core Components
//
// Sync: owns the State of a single account. It is fed from two directions:
// explicit queries (Refresh) and contract notifications delivered by an
// events.Manager after Attach.
//
// State: token, position and score, each field tagged with the sequence of
// the update that produced it.
//
// # Reconciliation
//
// Updates are applied per field. An update with a higher sequence replaces
// the current value, an update with the same sequence is a duplicate and an
// older one is dropped. A refresh answered at block n is ordered after every
// log of block n. When either side has no sequence the last applied update
// wins and a warning is logged.
//
// Notifications are attributed by comparing their token with the token held
// by the Sync when they are applied. A notification for any other token is a
// stale application: it is counted and discarded.
package playerstate
