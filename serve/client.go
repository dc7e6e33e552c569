package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/cockroachdb/errors"

	ghostline "github.com/Paranoid-AF/ghostline"
)

// errNoDaemon marks a failed dial: nothing is listening on the socket.
var errNoDaemon = errors.New("no daemon listening")

const dialTimeout = time.Second

// sendCommand runs an engine command inside the daemon listening on
// sockPath.
func sendCommand(ctx context.Context, sockPath, command string) (*ghostline.AckResponse, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "dial %s", sockPath), errNoDaemon)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	data, err := json.Marshal(&ghostline.CommandRequest{Type: "command", Command: command})
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, errors.Wrap(err, "send command")
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrap(err, "read reply")
		}
		return nil, errors.New("daemon closed the connection without a reply")
	}
	var ack ghostline.AckResponse
	if err := json.Unmarshal(scanner.Bytes(), &ack); err != nil {
		return nil, errors.Wrap(err, "decode reply")
	}
	if ack.Error != nil {
		return nil, errors.Newf("%s: %s", ack.Error.Code, ack.Error.Message)
	}
	return &ack, nil
}

// clearCache empties the suggestion store. A running daemon holds the store
// in memory and rewrites storage on its next change, so it has to do the
// clearing itself. offline runs only when no daemon answers the dial.
func clearCache(ctx context.Context, sockPath string, offline func() error) (viaDaemon bool, err error) {
	_, err = sendCommand(ctx, sockPath, ghostline.ClearCacheCommand)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, errNoDaemon) {
		return false, err
	}
	slog.Debug("no daemon on socket, clearing storage directly", "socket", sockPath, "error", err)
	return false, offline()
}
