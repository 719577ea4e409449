package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gamegineer/tablenet/pkg/client"
)

// flags are the command line values that override config and state
type flags struct {
	server     string
	playerName string
	password   string
}

type settings struct {
	server     string
	playerName string
	password   string
}

// resolveSettings picks the server and player name. Flags win. The server
// falls back to the last one joined, then the config. The name falls back to
// the one last used on that server, then the config, then the last name used
// anywhere.
func resolveSettings(config client.TOMLConfig, state client.StateStore, f flags) (settings, error) {
	s := settings{server: f.server, playerName: f.playerName, password: f.password}

	if s.server == "" {
		s.server = state.GetLastServer()
	}
	if s.server == "" {
		s.server = strings.TrimSpace(config.Connection.DefaultServer)
	}
	if s.server == "" {
		return settings{}, errors.New("no server given: use -server or set [connection] default_server")
	}

	if s.playerName == "" {
		name, err := state.PlayerNameFor(s.server)
		if err != nil {
			return settings{}, fmt.Errorf("failed to read state: %w", err)
		}
		s.playerName = name
	}
	if s.playerName == "" {
		s.playerName = config.Connection.PlayerName
	}
	if s.playerName == "" {
		s.playerName = state.GetLastPlayerName()
	}
	if s.playerName == "" {
		return settings{}, errors.New("no player name given: use -name or set [connection] player_name")
	}

	return s, nil
}

const helpText = `Commands:
  request        ask for control of the table
  cancel         withdraw your control request
  give <player>  hand control to another player
  quit           leave the table
`

// execute runs one command line. quit is true once the player has left.
func execute(out io.Writer, sess client.TableSession, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "help", "?":
		fmt.Fprint(out, helpText)
		return false, nil
	case "request":
		return false, sess.RequestControl()
	case "cancel":
		return false, sess.CancelControlRequest()
	case "give":
		if len(fields) != 2 {
			return false, errors.New("usage: give <player>")
		}
		return false, sess.GiveControl(fields[1])
	case "quit", "exit", "bye":
		return true, sess.Goodbye()
	default:
		return false, fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}
