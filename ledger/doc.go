// Package ledger implements a local, append-only journal of resolved dice
// rolls.
//
// # Core Components
//
// Journal: an append-only log of rolls with hash chaining for tamper
// detection.
//
// Entry: a single resolved roll, with the secret that was revealed, the
// commitment it opens and the transactions that carried both, linked to the
// previous entry by hash.
//
// # Verification
//
// Verify checks the chain linkage of every entry and that every recorded
// nonce reproduces its commitment. A journal kept by a player is therefore
// enough to audit, offline, that no roll was revealed with a secret other
// than the one committed.
package ledger
