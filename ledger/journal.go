package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/chain-monopoly/dice"
)

type Journal struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewJournal creates a journal for the rolls made against contract. The
// genesis entry has index 0, previous hash "0" and an empty roll.
func NewJournal(contract common.Address) *Journal {
	j := &Journal{
		entries: make([]Entry, 0),
	}

	genesis := Entry{
		Index:     0,
		Timestamp: time.Now().Unix(),
		PrevHash:  "0",
		Metadata:  Metadata{Contract: contract},
	}
	genesis.Hash = calculateHash(genesis)
	j.entries = append(j.entries, genesis)

	return j
}

// Append records a resolved roll. The roll must open its own commitment.
func (j *Journal) Append(roll Roll, revealBlock uint64, extra ...map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var extraMsg map[string]string
	if len(extra) > 0 {
		extraMsg = extra[0]
	}
	latest := j.entries[len(j.entries)-1]

	entry := Entry{
		Index:     latest.Index + 1,
		Timestamp: time.Now().Unix(),
		PrevHash:  latest.Hash,
		Roll:      roll,
		Metadata: Metadata{
			Contract:    latest.Metadata.Contract,
			RevealBlock: revealBlock,
			Extra:       extraMsg,
		},
	}
	entry.Hash = calculateHash(entry)

	if err := validateEntry(entry, latest); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	j.entries = append(j.entries, entry)
	return nil
}

// Latest returns the most recent entry.
func (j *Journal) Latest() Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[len(j.entries)-1]
}

// ByIndex returns the entry at index.
func (j *Journal) ByIndex(index int) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if index < 0 || index >= len(j.entries) {
		return Entry{}, fmt.Errorf("index %d out of range", index)
	}
	return j.entries[index], nil
}

// Entries returns a copy of every entry, genesis included.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Entry(nil), j.entries...)
}

// Len returns the number of recorded rolls.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries) - 1
}

// Verify checks the genesis entry, then the index, hash linkage and own hash
// of every following entry, and that its nonce opens its commitment.
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return verifyEntries(j.entries)
}

func verifyEntries(entries []Entry) error {
	if len(entries) == 0 {
		return errors.New("empty journal")
	}
	genesis := entries[0]
	if genesis.Index != 0 || genesis.PrevHash != "0" || genesis.Hash != calculateHash(genesis) {
		return errors.New("invalid genesis entry")
	}
	for i := 1; i < len(entries); i++ {
		if err := validateEntry(entries[i], entries[i-1]); err != nil {
			return fmt.Errorf("entry %d invalid: %w", i, err)
		}
	}
	return nil
}

func validateEntry(current, previous Entry) error {
	if current.Index != previous.Index+1 {
		return fmt.Errorf("invalid index: expected %d, got %d", previous.Index+1, current.Index)
	}
	if current.PrevHash != previous.Hash {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", previous.Hash, current.PrevHash)
	}
	if expected := calculateHash(current); current.Hash != expected {
		return fmt.Errorf("invalid hash: expected %s, got %s", expected, current.Hash)
	}
	if !dice.Verify(current.Roll.Account, current.Roll.Nonce, current.Roll.Commitment) {
		return fmt.Errorf("nonce does not open commitment %s", current.Roll.Commitment)
	}
	return nil
}

// calculateHash computes the SHA256 of an entry from its index, timestamp,
// previous hash, and the JSON encoding of its roll and metadata.
func calculateHash(entry Entry) string {
	rollBytes, _ := json.Marshal(entry.Roll)
	metaBytes, _ := json.Marshal(entry.Metadata)

	data := fmt.Sprintf("%d%d%s%s%s",
		entry.Index,
		entry.Timestamp,
		entry.PrevHash,
		string(rollBytes),
		string(metaBytes),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Save writes the journal to path as JSON.
func (j *Journal) Save(path string) error {
	j.mu.RLock()
	data, err := json.MarshalIndent(j.entries, "", "  ")
	j.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Load reads a journal saved with Save and verifies it.
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	if err := verifyEntries(entries); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	return &Journal{entries: entries}, nil
}

// Open loads the journal at path, or starts a new one for contract when the
// file does not exist. A journal kept for another contract is an error.
func Open(path string, contract common.Address) (*Journal, error) {
	j, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewJournal(contract), nil
	}
	if err != nil {
		return nil, err
	}
	if got := j.entries[0].Metadata.Contract; got != contract {
		return nil, fmt.Errorf("journal %s belongs to contract %s", path, got)
	}
	return j, nil
}
