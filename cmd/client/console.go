package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/dkeye/VoiceQueue/internal/app/orch"
	"github.com/dkeye/VoiceQueue/internal/app/turn"
)

func printHelp() {
	pterm.Println("Commands: [s]tart  s[k]ip  [f]inish  [p]eers/status  [l]eave  [q]uit")
}

// runConsole reads one command per line until ctx ends or input closes.
func runConsole(ctx context.Context, cancel context.CancelFunc, sess *orch.Session, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if quit := handleCommand(ctx, sess, strings.TrimSpace(sc.Text())); quit {
			cancel()
			return
		}
	}
}

func handleCommand(ctx context.Context, sess *orch.Session, line string) bool {
	opCtx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()

	var err error
	switch strings.ToLower(line) {
	case "":
		return false
	case "s", "start":
		err = sess.StartTurn(opCtx)
	case "k", "skip":
		err = sess.SkipTurn(opCtx)
	case "f", "finish":
		err = sess.FinishTurn(opCtx)
	case "p", "status", "peers":
		err = printStatus(opCtx, sess)
	case "l", "leave":
		if err := sess.Leave(opCtx); err != nil {
			pterm.Error.Println(err.Error())
		}
		return true
	case "q", "quit", "exit":
		return true
	default:
		printHelp()
		return false
	}
	if errors.Is(err, turn.ErrInvalidAction) {
		pterm.Warning.Println("Not available right now")
	} else if err != nil {
		pterm.Error.Println(err.Error())
	}
	return false
}

func printStatus(ctx context.Context, sess *orch.Session) error {
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return err
	}
	st := snap.Status
	mic := "muted"
	if !snap.Muted {
		mic = "live"
	}
	if !snap.AudioEnabled {
		mic = "unavailable"
	}
	data := pterm.TableData{
		{"State", snap.Turn.State.String()},
		{"Position", fmt.Sprintf("%d of %d", st.Position, st.TotalInQueue)},
		{"Now", st.Position1Name},
		{"Next", st.Position2Name},
		{"Mic", mic},
	}
	for kind, at := range snap.Turn.Deadlines {
		data = append(data, []string{kind.String(), time.Until(at).Round(time.Second).String()})
	}
	for _, p := range snap.Peers {
		data = append(data, []string{"Peer " + string(p.ID), fmt.Sprintf("%s %s", p.Role, p.State)})
	}
	return pterm.DefaultTable.WithData(data).Render()
}
