package ledger

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/chain-monopoly/dice"
)

var (
	gameContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	account      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func roll(nonce int64) Roll {
	n := big.NewInt(nonce)
	return Roll{
		Account:    account,
		Nonce:      n,
		Commitment: dice.Hash(account, n),
		CommitTx:   common.BigToHash(big.NewInt(nonce * 2)),
		RevealTx:   common.BigToHash(big.NewInt(nonce*2 + 1)),
	}
}

// TestNewJournal verifies the genesis entry of a new journal.
func TestNewJournal(t *testing.T) {
	j := NewJournal(gameContract)
	if j.Len() != 0 {
		t.Fatalf("expected no rolls, got %d", j.Len())
	}
	genesis := j.Latest()
	if genesis.Index != 0 {
		t.Fatalf("genesis index should be 0, got %d", genesis.Index)
	}
	if genesis.PrevHash != "0" {
		t.Fatalf("genesis PrevHash should be '0', got %s", genesis.PrevHash)
	}
	if genesis.Hash == "" {
		t.Fatal("genesis entry should have a hash")
	}
	if genesis.Metadata.Contract != gameContract {
		t.Fatalf("genesis contract should be %s, got %s", gameContract, genesis.Metadata.Contract)
	}
	if err := j.Verify(); err != nil {
		t.Fatalf("new journal does not verify: %v", err)
	}
}

// TestAppendRoll verifies that a roll is linked to the previous entry.
func TestAppendRoll(t *testing.T) {
	j := NewJournal(gameContract)
	if err := j.Append(roll(11), 40); err != nil {
		t.Fatalf("unexpected error appending valid roll: %v", err)
	}
	if err := j.Append(roll(12), 44, map[string]string{"tile": "Park Place"}); err != nil {
		t.Fatalf("unexpected error appending valid roll: %v", err)
	}
	if j.Len() != 2 {
		t.Fatalf("expected 2 rolls, got %d", j.Len())
	}
	entries := j.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Fatalf("entry %d is not linked to entry %d", i, i-1)
		}
		if entries[i].Metadata.Contract != gameContract {
			t.Fatalf("entry %d lost the contract", i)
		}
	}
	latest := j.Latest()
	if latest.Metadata.RevealBlock != 44 || latest.Metadata.Extra["tile"] != "Park Place" {
		t.Fatalf("unexpected metadata %+v", latest.Metadata)
	}
	if err := j.Verify(); err != nil {
		t.Fatalf("journal does not verify: %v", err)
	}
}

// TestAppendMismatchedNonce verifies that a roll whose nonce does not open
// its commitment is never recorded.
func TestAppendMismatchedNonce(t *testing.T) {
	j := NewJournal(gameContract)
	r := roll(11)
	r.Nonce = big.NewInt(12)
	if err := j.Append(r, 40); err == nil {
		t.Fatal("expected error for mismatched nonce, got nil")
	}
	if j.Len() != 0 {
		t.Fatalf("journal should still be empty, got %d rolls", j.Len())
	}
}

// TestVerifyDetectsTampering modifies recorded entries and expects Verify to
// fail.
func TestVerifyDetectsTampering(t *testing.T) {
	cases := map[string]func(e *Entry){
		"nonce":     func(e *Entry) { e.Roll.Nonce = big.NewInt(99) },
		"reveal tx": func(e *Entry) { e.Roll.RevealTx = common.Hash{} },
		"prev hash": func(e *Entry) { e.PrevHash = "0" },
		"index":     func(e *Entry) { e.Index = 5 },
		"rehashed": func(e *Entry) {
			e.Roll.Nonce = big.NewInt(99)
			e.Hash = calculateHash(*e)
		},
	}
	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			j := NewJournal(gameContract)
			for _, n := range []int64{3, 4, 5} {
				if err := j.Append(roll(n), uint64(n)); err != nil {
					t.Fatal(err)
				}
			}
			tamper(&j.entries[2])
			if err := j.Verify(); err == nil {
				t.Fatal("tampered journal verified")
			}
		})
	}
}

// TestByIndex verifies bounds checking.
func TestByIndex(t *testing.T) {
	j := NewJournal(gameContract)
	if err := j.Append(roll(8), 1); err != nil {
		t.Fatal(err)
	}
	e, err := j.ByIndex(1)
	if err != nil {
		t.Fatal(err)
	}
	if e.Roll.Nonce.Int64() != 8 {
		t.Fatalf("expected nonce 8, got %s", e.Roll.Nonce)
	}
	for _, i := range []int{-1, 2} {
		if _, err := j.ByIndex(i); err == nil {
			t.Fatalf("expected error for index %d", i)
		}
	}
}

// TestSaveLoad verifies that a saved journal loads back and still verifies.
func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolls.json")
	j := NewJournal(gameContract)
	for _, n := range []int64{21, 22} {
		if err := j.Append(roll(n), uint64(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Latest().Hash != j.Latest().Hash {
		t.Fatal("loaded journal has a different head")
	}
	if err := loaded.Append(roll(23), 23); err != nil {
		t.Fatal(err)
	}
	if err := loaded.Verify(); err != nil {
		t.Fatal(err)
	}
}

// TestLoadRejectsTamperedFile edits the saved file and expects Load to fail.
func TestLoadRejectsTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolls.json")
	j := NewJournal(gameContract)
	if err := j.Append(roll(21), 1); err != nil {
		t.Fatal(err)
	}
	j.entries[1].Roll.Nonce = big.NewInt(22)
	if err := j.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected tampered journal to be rejected")
	}
}

// TestOpen covers a missing file, a journal of the same contract and one of
// another contract.
func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolls.json")
	j, err := Open(path, gameContract)
	if err != nil {
		t.Fatal(err)
	}
	if j.Len() != 0 {
		t.Fatal("expected a new journal")
	}
	if err := j.Append(roll(5), 2); err != nil {
		t.Fatal(err)
	}
	if err := j.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temporary file left behind")
	}

	reopened, err := Open(path, gameContract)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("expected 1 roll, got %d", reopened.Len())
	}
	if _, err := Open(path, common.HexToAddress("0x01")); err == nil {
		t.Fatal("expected error for a journal of another contract")
	}
}

// TestRollFromOutcome converts a coordinator outcome.
func TestRollFromOutcome(t *testing.T) {
	o := dice.Outcome{
		Account:    account,
		Nonce:      big.NewInt(77),
		Commitment: dice.Hash(account, big.NewInt(77)),
		CommitTx:   common.HexToHash("0x01"),
		RevealTx:   common.HexToHash("0x02"),
	}
	r := RollFromOutcome(o)
	o.Nonce.SetInt64(1)
	if r.Nonce.Int64() != 77 {
		t.Fatal("roll shares the nonce of the outcome")
	}
	if r.Account != account || r.CommitTx != o.CommitTx || r.RevealTx != o.RevealTx {
		t.Fatalf("unexpected roll %+v", r)
	}
}
