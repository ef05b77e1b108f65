package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pterm/pterm"

	"github.com/luca-patrignani/chain-monopoly/dice"
	"github.com/luca-patrignani/chain-monopoly/playerstate"
)

const (
	boardSize    = 40
	boardColumns = 8
)

// boardData lays the tiles out in rows of boardColumns. The tile of a joined
// player is bracketed.
func boardData(state playerstate.State) pterm.TableData {
	var data pterm.TableData
	for start := 0; start < boardSize; start += boardColumns {
		row := make([]string, 0, boardColumns)
		for tile := start; tile < start+boardColumns && tile < boardSize; tile++ {
			if state.Joined() && uint64(tile) == state.Position {
				row = append(row, pterm.BgMagenta.Sprint(pterm.White(fmt.Sprintf("[%2d]", tile))))
				continue
			}
			row = append(row, fmt.Sprintf(" %2d ", tile))
		}
		data = append(data, row)
	}
	return data
}

func printBoardInfo(state playerstate.State) string {
	board, err := pterm.DefaultTable.WithBoxed().WithData(boardData(state)).Srender()
	if err != nil {
		return err.Error()
	}
	return board
}

func printPlayerInfo(account common.Address, state playerstate.State, readOnly bool) string {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	title := shortAddress(account)
	if readOnly {
		title += " (read-only)"
	}
	if !state.Joined() {
		return pbox.WithTitle(title).WithTitleTopLeft().Sprint(pterm.LightYellow("Not joined yet"))
	}
	return pbox.WithTitle(title).WithTitleTopLeft().Sprintf("Token ID: %d\nCurrent Tile: %d\nScore: %s",
		state.TokenID, state.Position, state.Score)
}

func printRollInfo(status dice.Status, journalLen int) string {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	var phase string
	switch status.Phase {
	case dice.Resolved:
		phase = pterm.LightGreen(string(status.Phase))
	case dice.Failed:
		phase = pterm.LightRed(string(status.Phase))
	default:
		phase = pterm.LightCyan(string(status.Phase))
	}
	lines := []string{"Phase: " + phase}
	if status.Commitment != (common.Hash{}) {
		lines = append(lines, "Commitment: "+shortHash(status.Commitment))
	}
	if status.Err != nil {
		lines = append(lines, pterm.LightRed(status.Err.Error()))
	}
	lines = append(lines, fmt.Sprintf("Journal: %d rolls", journalLen))
	return pbox.WithTitle(pterm.LightYellow("|DICE|")).WithTitleTopCenter().Sprint(strings.Join(lines, "\n"))
}

func printState(account common.Address, state playerstate.State, status dice.Status, journalLen int, readOnly bool) {
	pterm.DefaultPanel.WithPanels([][]pterm.Panel{
		{{Data: printBoardInfo(state)}},
		{{Data: printPlayerInfo(account, state, readOnly)}, {Data: printRollInfo(status, journalLen)}},
	}).Render()
}

func shortAddress(a common.Address) string {
	s := a.Hex()
	return s[:6] + "…" + s[len(s)-4:]
}

func shortHash(h common.Hash) string {
	s := h.Hex()
	return s[:10] + "…"
}
