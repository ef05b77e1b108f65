// Package dice drives the commit-reveal protocol that produces a dice roll
// neither the player nor the contract can bias.
//
// A roll moves a Coordinator through
//
//	idle -> committing -> committed -> revealing -> resolved
//
// with failed reachable from every phase in between. The secret nonce is
// drawn when the roll starts, only its hash is submitted with commitDice, and
// the nonce itself leaves the process with revealDice once the commitment is
// confirmed. A failed or resolved roll is never resumed: the next roll starts
// from idle with a new nonce.
package dice
