package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/game"
)

const (
	aiHelp     = "digits toggle cards · enter submits · n new match · l leave · q quit"
	onlineHelp = "digits toggle cards · enter submits · n find match · c cancel · l leave · b/f background/foreground · q quit"
)

var errUnknownCommand = errors.New("unknown command")

// controller is the part of a match controller the terminal drives.
type controller interface {
	Select(displayIdx int) bool
	Submit() error
	Snapshot() game.Snapshot
}

// terminal redraws the latest snapshot and reads commands line by line.
type terminal struct {
	help string

	mu     sync.Mutex
	latest game.Snapshot
	have   bool
	status string
	dirty  chan struct{}
}

func newTerminal(help string) *terminal {
	return &terminal{help: help, dirty: make(chan struct{}, 1)}
}

// update is the controllers' OnChange hook. Only the newest snapshot is drawn.
func (t *terminal) update(s game.Snapshot) {
	t.mu.Lock()
	t.latest, t.have = s, true
	t.mu.Unlock()
	t.poke()
}

func (t *terminal) poke() {
	select {
	case t.dirty <- struct{}{}:
	default:
	}
}

func (t *terminal) setStatus(s string) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
	t.poke()
}

// run draws until ctx ends, stdin closes or the player quits. extra handles
// the commands specific to one controller and reports whether to quit.
func (t *terminal) run(ctx context.Context, c controller, extra func(cmd string) (bool, error)) error {
	if title, err := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Open ", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("Trade", pterm.FgRed.ToStyle()),
	).Srender(); err == nil {
		pterm.Print(title)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return err
	}
	defer area.Stop()
	t.mu.Lock()
	have := t.have
	t.mu.Unlock()
	if !have {
		t.update(c.Snapshot())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.dirty:
			t.mu.Lock()
			snap, status := t.latest, t.status
			t.mu.Unlock()
			area.Update(render(snap, status, t.help))
		case line, ok := <-lines:
			if !ok || line == "q" {
				return nil
			}
			quit, err := t.command(c, line, extra)
			if quit {
				return nil
			}
			if err != nil {
				t.setStatus(pterm.Red(err.Error()))
			} else {
				t.setStatus("")
			}
		}
	}
}

func (t *terminal) command(c controller, line string, extra func(string) (bool, error)) (bool, error) {
	if line == "" || line == "s" {
		return false, c.Submit()
	}
	if digits := strings.ReplaceAll(line, " ", ""); isDigits(digits) {
		for _, r := range digits {
			if !c.Select(int(r - '1')) {
				return false, fmt.Errorf("card %c cannot be selected now", r)
			}
		}
		return false, nil
	}
	return extra(line)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '1' || r > '9' {
			return false
		}
	}
	return true
}

var suitStyle = map[engine.Card]*pterm.Style{
	engine.SuitA: pterm.NewStyle(pterm.FgLightRed),
	engine.SuitB: pterm.NewStyle(pterm.FgLightBlue),
	engine.SuitC: pterm.NewStyle(pterm.FgLightGreen),
	engine.SuitD: pterm.NewStyle(pterm.FgLightYellow),
}

func cardText(c engine.Card) string {
	if st, ok := suitStyle[c]; ok {
		return st.Sprint(c.String())
	}
	return c.String()
}

func cardsText(cards []engine.Card) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = cardText(c)
	}
	return strings.Join(parts, " ")
}

func handText(s game.Snapshot) string {
	selected := make(map[int]bool, len(s.Selected))
	for _, i := range s.Selected {
		selected[i] = true
	}
	parts := make([]string, len(s.Hand))
	for i, c := range s.Hand {
		label := fmt.Sprintf("%d:%s", i+1, cardText(c))
		if selected[i] {
			label = pterm.BgCyan.Sprint(label)
		}
		parts[i] = label
	}
	return strings.Join(parts, "  ")
}

func render(s game.Snapshot, status, help string) string {
	var b strings.Builder
	switch s.Scene {
	case game.SceneHome:
		b.WriteString("Home\n")
	case game.SceneWaiting:
		fmt.Fprintf(&b, "Looking for an opponent (%ds)\n", s.WaitElapsed)
	case game.SceneMatched:
		fmt.Fprintf(&b, "Opponent %s found, starting in %d\n", s.OpponentID, s.PreMatchCountdown)
	default:
		fmt.Fprintf(&b, "Turn %d/%d", s.Turn, s.Turns)
		if s.Countdown > 0 && s.Scene == game.ScenePlaying {
			fmt.Fprintf(&b, "   %ds left", s.Countdown)
		}
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "Opponent  %s   (%d pts)\n", cardsText(s.OpponentHand), engine.Score(s.OpponentHand))
		fmt.Fprintf(&b, "You       %s   (%d pts)\n\n", handText(s), engine.Score(s.Hand))
		if len(s.LocalSlot) > 0 {
			fmt.Fprintf(&b, "Your slot      %s\n", cardsText(s.LocalSlot))
		}
		switch {
		case len(s.OpponentSlot) > 0:
			fmt.Fprintf(&b, "Opponent slot  %s\n", cardsText(s.OpponentSlot))
		case s.OpponentSlotCount > 0:
			fmt.Fprintf(&b, "Opponent slot  %s\n", strings.TrimSpace(strings.Repeat("? ", s.OpponentSlotCount)))
		}
	}
	if s.Message != "" {
		b.WriteString("\n" + pterm.Bold.Sprint(s.Message) + "\n")
	}
	if status != "" {
		b.WriteString(status + "\n")
	}
	b.WriteString(pterm.Gray(help))

	title := "Open Trade Poker"
	if s.OpponentID != "" {
		title += " vs " + s.OpponentID
	}
	return pterm.DefaultBox.WithTitle(title).WithTitleTopLeft().WithHorizontalPadding(2).Sprint(b.String())
}
