package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

var errUnknownCommand = errors.New("unknown command, try /help")

const helpText = `Commands:
  /join <room-id> [password]          enter a room
  /leave [room-id]                    leave a room, the current one by default
  /create <name> [kind] [password]    create a room (public, private, protected)
  /rooms                              list rooms
  /who                                list online users
  /more                               load older messages of the current room
  /quit                               log out and exit
Anything else is sent as a message to the current room.`

// command is one parsed slash command.
type command struct {
	name string
	args []string
}

// parseCommand splits a /command line. ok is false for plain messages.
func parseCommand(line string) (cmd command, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, false
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, true
}

// handleLine runs one input line. quit is true after /quit.
func (a *App) handleLine(ctx context.Context, line string) (quit bool, err error) {
	if strings.TrimSpace(line) == "" {
		return false, nil
	}
	cmd, ok := parseCommand(line)
	if !ok {
		return false, a.session.Execute(ctx, core.Command{Kind: core.CommandSendMessage, Text: line})
	}

	switch cmd.name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "h":
		a.render.Printf("%s", helpText)
	case "join":
		if len(cmd.args) == 0 {
			return false, errors.New("usage: /join <room-id> [password]")
		}
		room, err := parseRoomID(cmd.args[0])
		if err != nil {
			return false, err
		}
		return false, a.session.Execute(ctx, core.Command{
			Kind:     core.CommandJoinRoom,
			Room:     room,
			Password: strings.Join(cmd.args[1:], " "),
		})
	case "leave":
		room := core.GlobalScope
		if len(cmd.args) > 0 {
			id, err := parseRoomID(cmd.args[0])
			if err != nil {
				return false, err
			}
			room = id
		}
		return false, a.session.Execute(ctx, core.Command{Kind: core.CommandLeaveRoom, Room: room})
	case "create":
		return false, a.create(ctx, cmd.args)
	case "rooms":
		a.listRooms(ctx)
	case "who":
		snap := a.session.State()
		a.render.Printf("Online (%d): %s", len(snap.Online), strings.Join(snap.Online, ", "))
		if !snap.CurrentRoom.IsGlobal() {
			members := snap.Members[snap.CurrentRoom]
			a.render.Printf("In %s: %s", roomLabel(snap, snap.CurrentRoom), strings.Join(members, ", "))
		}
	case "more":
		return false, a.session.LoadMore(ctx, a.session.State().CurrentRoom)
	default:
		return false, errUnknownCommand
	}
	return false, nil
}

func (a *App) create(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /create <name> [kind] [password]")
	}
	kind := core.RoomPublic
	if len(args) > 1 {
		k, err := core.ParseRoomKind(args[1])
		if err != nil {
			return err
		}
		kind = k
	}
	password := ""
	if len(args) > 2 {
		password = strings.Join(args[2:], " ")
	}
	return a.session.Execute(ctx, core.Command{
		Kind:     core.CommandCreateRoom,
		Text:     args[0],
		RoomKind: kind,
		Password: password,
	})
}

// listRooms prefers the live catalog and falls back to the REST API
// before the server has sent one.
func (a *App) listRooms(ctx context.Context) {
	rooms := a.session.State().Rooms
	if len(rooms) == 0 {
		fetched, err := a.api.ListRooms(ctx)
		if err != nil {
			a.render.Error(err)
			return
		}
		rooms = fetched
	}
	if len(rooms) == 0 {
		a.render.Printf("No rooms yet. Create one with /create <name>.")
		return
	}
	for _, r := range rooms {
		a.render.Printf("  %-4d %-24s %s", int64(r.ID), r.Name, r.Kind)
	}
}

func parseRoomID(s string) (core.RoomID, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return core.GlobalScope, fmt.Errorf("%w: %q", core.ErrInvalidRoom, s)
	}
	return core.RoomID(id), nil
}
