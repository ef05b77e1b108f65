// Package wallet holds the authenticated identity that drives every remote
// call made by the client.
//
// # Core Components
//
// Provider: the host-supplied wallet capability. It exposes the accounts the
// holder is willing to share and a Signer for one of them.
//
// Wallet: connects to a Provider and owns the current Session. A new Connect
// replaces the Session atomically; there is no implicit reconnect.
//
// Session: the address of the connected account plus its signing handle.
// Sessions are passed explicitly to the components that need them, so several
// independent sessions can coexist (for example in tests).
//
// # Errors
//
// ErrProviderUnavailable is returned when no provider is present and
// ErrUserRejected when the account holder declines a connection or a
// signature. Neither leaves a partial Session behind.
package wallet
