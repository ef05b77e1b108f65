package dice

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/chain-monopoly/contract"
	"github.com/luca-patrignani/chain-monopoly/contract/contracttest"
	"github.com/luca-patrignani/chain-monopoly/events"
	"github.com/luca-patrignani/chain-monopoly/playerstate"
	"github.com/luca-patrignani/chain-monopoly/wallet"
)

var player = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

func joinedGame() *contracttest.Game {
	g := contracttest.NewGame(player)
	g.SetPlayer(player, 7, contract.PlayerRecord{Score: big.NewInt(0)})
	return g
}

func TestHash_Verify(t *testing.T) {
	other := common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	for _, n := range []int64{1, 6, 1 << 40} {
		nonce := big.NewInt(n)
		h := Hash(player, nonce)
		if !Verify(player, nonce, h) {
			t.Fatalf("nonce %d does not open its own commitment", n)
		}
		if Verify(player, new(big.Int).Add(nonce, big.NewInt(1)), h) {
			t.Errorf("nonce %d+1 opens the commitment of %d", n, n)
		}
		if Verify(other, nonce, h) {
			t.Errorf("commitment of %d verifies for another address", n)
		}
	}
	if Verify(player, nil, Hash(player, big.NewInt(0))) {
		t.Error("nil nonce verified")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), NonceBits)
	if Verify(player, huge, Hash(player, huge)) {
		t.Error("nonce wider than 256 bits verified")
	}
}

// Vectors of keccak256(abi.encodePacked(address, uint256)), the hash the
// contract recomputes on reveal.
func TestHash_KnownAnswer(t *testing.T) {
	account := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	wide, _ := new(big.Int).SetString("8000000000000000000000000000000000000000000000000000000000000007", 16)
	cases := []struct {
		nonce *big.Int
		want  string
	}{
		{big.NewInt(1), "0x3f68e79174daf15b50e15833babc8eb7743e730bb9606f922c48e95314c3905c"},
		{big.NewInt(42), "0x215a48e7d2e15d9f4b7eb276f5bc9019be958918e1257f317e331950f268cb2a"},
		{wide, "0xff641d0ad40a7d0704b1a2214317a490871cb3d665a87c2dda57385045c7540a"},
	}
	for _, tc := range cases {
		if got := Hash(account, tc.nonce); got != common.HexToHash(tc.want) {
			t.Errorf("Hash(%s, %s) = %s, want %s", account, tc.nonce, got, tc.want)
		}
	}
}

func TestRandomNonce_Distinct(t *testing.T) {
	seen := map[string]bool{}
	for range 32 {
		n, err := RandomNonce()
		if err != nil {
			t.Fatal(err)
		}
		if n.Sign() <= 0 || n.BitLen() > NonceBits {
			t.Fatalf("nonce out of range: %s", n)
		}
		if seen[n.String()] {
			t.Fatalf("nonce %s drawn twice", n)
		}
		seen[n.String()] = true
	}
}

func TestReveal_BeforeCommit(t *testing.T) {
	g := joinedGame()
	c := NewCoordinator(g)
	if _, err := c.Reveal(context.Background()); !errors.Is(err, ErrNotCommitted) {
		t.Fatalf("expected ErrNotCommitted, got %v", err)
	}
	if got := g.Submitted(); len(got) != 0 {
		t.Fatalf("expected no transaction, got %v", got)
	}
	if c.Status().Phase != Idle {
		t.Fatalf("expected idle, got %s", c.Status().Phase)
	}
}

func TestRoll_Transitions(t *testing.T) {
	g := joinedGame()
	var transitions []string
	c := NewCoordinator(g, WithOnTransition(func(from, to Phase) {
		transitions = append(transitions, string(from)+">"+string(to))
	}))
	o, err := c.Roll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"idle>committing", "committing>committed", "committed>revealing", "revealing>resolved"}
	if !slices.Equal(transitions, want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	if !Verify(player, o.Nonce, o.Commitment) {
		t.Fatal("outcome nonce does not open its commitment")
	}
	if o.CommitTx == (common.Hash{}) || o.RevealTx == (common.Hash{}) {
		t.Fatal("outcome lacks transaction hashes")
	}
	if got := g.Submitted(); !slices.Equal(got, []string{"commitDice", "revealDice"}) {
		t.Fatalf("submitted %v", got)
	}
	if s := c.Status(); s.Phase != Resolved || s.Err != nil {
		t.Fatalf("status = %+v", s)
	}
	stored, ok := c.Outcome()
	if !ok || stored.Nonce.Cmp(o.Nonce) != 0 {
		t.Fatalf("stored outcome = %+v", stored)
	}
}

func TestCommit_RejectsConcurrentRoll(t *testing.T) {
	g := joinedGame()
	release := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once
	g.OnConfirm(func(method string) {
		if method == "commitDice" {
			once.Do(func() { close(blocked) })
			<-release
		}
	})
	c := NewCoordinator(g)

	done := make(chan error, 1)
	go func() {
		_, err := c.Roll(context.Background())
		done <- err
	}()
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("commit was never submitted")
	}

	if c.Status().Phase != Committing {
		t.Fatalf("expected committing, got %s", c.Status().Phase)
	}
	if err := c.Commit(context.Background()); !errors.Is(err, ErrRollInProgress) {
		t.Fatalf("expected ErrRollInProgress, got %v", err)
	}
	if _, err := c.Reveal(context.Background()); !errors.Is(err, ErrNotCommitted) {
		t.Fatalf("expected ErrNotCommitted while committing, got %v", err)
	}
	if got := g.Submitted(); !slices.Equal(got, []string{"commitDice"}) {
		t.Fatalf("submitted %v before the commitment was confirmed", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if c.Status().Phase != Resolved {
		t.Fatalf("expected resolved, got %s", c.Status().Phase)
	}
}

func TestCommit_InProgressWhileCommitted(t *testing.T) {
	c := NewCoordinator(joinedGame())
	if err := c.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(context.Background()); !errors.Is(err, ErrRollInProgress) {
		t.Fatalf("expected ErrRollInProgress, got %v", err)
	}
}

func TestRoll_FreshNonceEachTime(t *testing.T) {
	c := NewCoordinator(joinedGame())
	first, err := c.Roll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Roll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Nonce.Cmp(second.Nonce) == 0 || first.Commitment == second.Commitment {
		t.Fatal("second roll reused the previous nonce")
	}
}

func TestCommit_RepeatedNonceRejected(t *testing.T) {
	fixed := big.NewInt(424242)
	c := NewCoordinator(joinedGame(), WithNonceSource(func() (*big.Int, error) {
		return new(big.Int).Set(fixed), nil
	}))
	if _, err := c.Roll(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := c.Commit(context.Background())
	if err == nil {
		t.Fatal("commit accepted the nonce of the previous roll")
	}
	if c.Status().Phase != Failed {
		t.Fatalf("expected failed, got %s", c.Status().Phase)
	}
}

func TestCommit_SignerRejected(t *testing.T) {
	g := joinedGame()
	g.FailSubmit("commitDice", wallet.ErrUserRejected)
	c := NewCoordinator(g)

	err := c.Commit(context.Background())
	if !errors.Is(err, wallet.ErrUserRejected) {
		t.Fatalf("expected ErrUserRejected, got %v", err)
	}
	s := c.Status()
	if s.Phase != Failed || !errors.Is(s.Err, wallet.ErrUserRejected) {
		t.Fatalf("status = %+v", s)
	}
	if _, ok := g.Commitment(player); ok {
		t.Fatal("a commitment reached the contract")
	}
	if got := g.Submitted(); len(got) != 0 {
		t.Fatalf("submitted %v", got)
	}

	// The next roll starts over with a new secret.
	g.FailSubmit("commitDice", nil)
	if _, err := c.Roll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Commitment == c.Status().Commitment {
		t.Fatal("failed commitment was reused")
	}
}

func TestReveal_Failure(t *testing.T) {
	g := joinedGame()
	g.FailConfirm("revealDice", contract.ErrTransactionFailed)
	c := NewCoordinator(g)

	_, err := c.Roll(context.Background())
	if !errors.Is(err, contract.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
	if s := c.Status(); s.Phase != Failed || s.RevealTx == (common.Hash{}) {
		t.Fatalf("status = %+v", s)
	}
	if _, ok := c.Outcome(); ok {
		t.Fatal("failed roll produced an outcome")
	}
	if _, err := c.Reveal(context.Background()); !errors.Is(err, ErrNotCommitted) {
		t.Fatalf("reveal after failure: %v", err)
	}
}

func TestCommit_ConfirmationTimeout(t *testing.T) {
	g := joinedGame()
	g.FailConfirm("commitDice", contract.ErrConfirmationTimeout)
	c := NewCoordinator(g)
	if err := c.Commit(context.Background()); !errors.Is(err, contract.ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
	if c.Status().Phase != Failed {
		t.Fatalf("expected failed, got %s", c.Status().Phase)
	}
}

func TestRoll_MovesMirroredPlayer(t *testing.T) {
	g := joinedGame()
	ctx := context.Background()
	mirror := playerstate.New(g, events.NewManager(g), player)
	if _, err := mirror.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mirror.Attach(ctx, 7); err != nil {
		t.Fatal(err)
	}
	defer mirror.Detach()

	o, err := NewCoordinator(g).Roll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := new(big.Int).Mod(o.Nonce, big.NewInt(6)).Uint64() + 1
	deadline := time.After(2 * time.Second)
	for mirror.State().Position != want {
		select {
		case <-deadline:
			t.Fatalf("position = %d, want %d", mirror.State().Position, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if to := mirror.State().Position; to >= contracttest.BoardSize {
		t.Fatalf("position %d off the board", to)
	}
}
