package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"golang.org/x/sync/errgroup"

	"github.com/luca-patrignani/chain-monopoly/config"
	"github.com/luca-patrignani/chain-monopoly/contract"
	"github.com/luca-patrignani/chain-monopoly/dice"
	"github.com/luca-patrignani/chain-monopoly/events"
	"github.com/luca-patrignani/chain-monopoly/ledger"
	"github.com/luca-patrignani/chain-monopoly/playerstate"
	"github.com/luca-patrignani/chain-monopoly/wallet"
)

const (
	actionJoin    = "Join game"
	actionRoll    = "Roll dice"
	actionRefresh = "Refresh"
	actionVerify  = "Verify journal"
	actionQuit    = "Quit"

	moveWait = 5 * time.Second
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == "abi" {
		if err := exportABI(os.Args[2]); err != nil {
			pterm.Error.Println(err)
			os.Exit(1)
		}
		pterm.Success.Printfln("ABI written to %s", os.Args[2])
		return
	}
	if len(os.Args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [abi <file>]\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	pterm.DefaultLogger.Level = ptermLevel(level)
	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Chain", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("Monopoly", pterm.FgRed.ToStyle()),
	).Render()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("client stopped", "error", err)
		os.Exit(1)
	}
}

// ui owns the spinner. It is only used from the menu goroutine: the roll
// transitions and the signature prompts are called back synchronously from
// within Roll and Join.
type ui struct {
	spinner *pterm.SpinnerPrinter
}

// confirm pauses the running spinner, if any, while the holder answers.
func (u *ui) confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if u.spinner != nil && u.spinner.IsActive {
		_ = u.spinner.Stop()
		defer func() { u.spinner, _ = u.spinner.Start() }()
	}
	return pterm.DefaultInteractiveConfirm.WithDefaultText(prompt).Show()
}

func (u *ui) start(text string) {
	u.spinner, _ = pterm.DefaultSpinner.Start(text)
}

func (u *ui) update(text string) {
	if u.spinner != nil {
		u.spinner.UpdateText(text)
	}
}

func (u *ui) done(err error) {
	if u.spinner == nil {
		return
	}
	if err != nil {
		u.spinner.Fail(err.Error())
	} else {
		u.spinner.Success()
	}
	u.spinner = nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	u := &ui{}

	endpoint, err := rpcEndpoint(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("%w: RPC_URL: %w", contract.ErrConfiguration, err)
	}
	u.start("Connecting to " + endpoint + " ...")
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		u.done(err)
		return fmt.Errorf("%w: dial: %w", contract.ErrNetwork, err)
	}
	defer client.Close()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		u.done(err)
		return fmt.Errorf("%w: chain id: %w", contract.ErrNetwork, err)
	}
	u.done(nil)
	pterm.Info.Printfln("Connected to chain %s", chainID)

	session, err := connect(ctx, cfg, chainID, u, logger)
	if err != nil {
		return err
	}
	descriptor, err := cfg.InterfaceDescriptor()
	if err != nil {
		return err
	}
	game, err := contract.Bind(cfg.ContractAddress, descriptor, session, client,
		contract.WithConfirmTimeout(cfg.ConfirmTimeout),
		contract.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	manager := events.NewManager(game, events.WithLogger(logger))
	player := playerstate.New(game, manager, session.Address(),
		playerstate.WithLogger(logger),
		playerstate.WithOnChange(func(playerstate.State) {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
	)
	defer player.Detach()

	journal, err := ledger.Open(cfg.JournalPath, game.Address())
	if err != nil {
		return err
	}
	roller := dice.NewCoordinator(game,
		dice.WithLogger(logger),
		dice.WithOnTransition(func(_, to dice.Phase) {
			u.update("Rolling: " + string(to) + " ...")
		}),
	)

	if err := syncPlayer(ctx, player, u, logger); err != nil {
		return err
	}

	for {
		printState(session.Address(), player.State(), roller.Status(), journal.Len(), !session.CanSign())
		action, err := pterm.DefaultInteractiveSelect.
			WithDefaultText("Choose an action").
			WithOptions(actions(player.State(), session.CanSign())).
			Show()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch action {
		case actionJoin:
			u.start("Joining the game ...")
			_, err := player.Join(ctx)
			u.done(err)
			if err != nil {
				report(logger, err)
				continue
			}
			if err := syncPlayer(ctx, player, u, logger); err != nil {
				report(logger, err)
			}
		case actionRoll:
			drain(changed)
			u.start("Rolling ...")
			outcome, err := roller.Roll(ctx)
			u.done(err)
			if err != nil {
				report(logger, err)
				continue
			}
			if err := journal.Append(ledger.RollFromOutcome(outcome), outcome.RevealBlock); err != nil {
				logger.Error("journal append failed", "error", err)
			} else if err := journal.Save(cfg.JournalPath); err != nil {
				logger.Error("journal save failed", "error", err)
			}
			awaitMove(ctx, changed, player, outcome.RevealBlock)
		case actionRefresh:
			if err := syncPlayer(ctx, player, u, logger); err != nil {
				report(logger, err)
			}
		case actionVerify:
			if err := journal.Verify(); err != nil {
				pterm.Error.Printfln("Journal does not verify: %v", err)
			} else {
				pterm.Success.Printfln("Journal verified: %d rolls", journal.Len())
			}
		case actionQuit:
			return nil
		}
	}
}

// connect opens a signing session from PRIVATE_KEY, or a read-only session
// for ACCOUNT_ADDRESS when no key is configured.
func connect(ctx context.Context, cfg config.Config, chainID *big.Int, u *ui, logger *slog.Logger) (*wallet.Session, error) {
	if cfg.ReadOnly() {
		addr := common.HexToAddress(cfg.Account)
		pterm.Warning.Printfln("No PRIVATE_KEY set, following %s read-only", addr)
		return wallet.NewReadOnlySession(addr), nil
	}
	keys, err := wallet.NewKeyProvider(cfg.PrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: PRIVATE_KEY: %w", contract.ErrConfiguration, err)
	}
	var provider wallet.Provider = keys
	if cfg.ConfirmSignatures {
		provider = wallet.NewConfirmingProvider(keys, wallet.ConfirmFunc(u.confirm))
	}
	return wallet.New(provider, wallet.WithLogger(logger)).Connect(ctx)
}

// syncPlayer refreshes the mirrored player and, unless its subscriptions are
// still live, subscribes to its updates concurrently. The subscriptions use ctx
// so they outlive the group; updates are matched to the token held when they
// arrive. Failing to subscribe is reported and leaves Refresh as the only way
// to reload the board.
func syncPlayer(ctx context.Context, player *playerstate.Sync, u *ui, logger *slog.Logger) error {
	u.start("Loading player state ...")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := player.Refresh(gctx)
		if errors.Is(err, playerstate.ErrNotJoined) {
			return nil
		}
		return err
	})
	if !player.Attached() {
		g.Go(func() error {
			if err := player.Attach(ctx, 0); err != nil {
				logger.Warn("live updates unavailable, use Refresh to reload the board", "error", err)
			}
			return nil
		})
	}
	err := g.Wait()
	u.done(err)
	return err
}

func actions(state playerstate.State, canSign bool) []string {
	var opts []string
	if canSign && !state.Joined() {
		opts = append(opts, actionJoin)
	}
	if canSign && state.Joined() {
		opts = append(opts, actionRoll)
	}
	return append(opts, actionRefresh, actionVerify, actionQuit)
}

// drain discards change signals left over from earlier refreshes.
func drain(changed <-chan struct{}) {
	for {
		select {
		case <-changed:
		default:
			return
		}
	}
}

// awaitMove waits until the mirrored position reflects the reveal block so
// the board is redrawn with the new tile.
func awaitMove(ctx context.Context, changed <-chan struct{}, player *playerstate.Sync, revealBlock uint64) {
	timeout := time.After(moveWait)
	for player.State().PositionSeq.Block < revealBlock {
		select {
		case <-changed:
		case <-timeout:
			pterm.Warning.Println("Move not observed yet, refresh to reload the board")
			return
		case <-ctx.Done():
			return
		}
	}
}

func report(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, wallet.ErrUserRejected):
		pterm.Warning.Println("Request rejected, nothing was sent")
	case errors.Is(err, contract.ErrConfirmationTimeout):
		pterm.Error.Println("Transaction not confirmed in time")
	case errors.Is(err, contract.ErrTransactionFailed):
		pterm.Error.Printfln("Transaction failed: %v", err)
	case errors.Is(err, dice.ErrRollInProgress):
		pterm.Warning.Println("A roll is already in progress")
	default:
		logger.Error("action failed", "error", err)
	}
}

func ptermLevel(level slog.Level) pterm.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return pterm.LogLevelDebug
	case level <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case level <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}

// exportABI writes the embedded contract ABI, indented, to path.
func exportABI(path string) error {
	data, err := indentABI(contract.DefaultABI)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func indentABI(descriptor string) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(descriptor), "", "  "); err != nil {
		return nil, fmt.Errorf("indent abi: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
