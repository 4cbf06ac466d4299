package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vango-dev/vsock/internal/demo"
	"github.com/vango-dev/vsock/internal/errors"
	"github.com/vango-dev/vsock/pkg/dispatch"
	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/router"
	"github.com/vango-dev/vsock/pkg/socket"
)

func dialCmd() *cobra.Command {
	var (
		room string
		name string
		ping bool
	)

	cmd := &cobra.Command{
		Use:   "dial <url>",
		Short: "Connect to a server and chat from stdin",
		Long: `Connect to a vsock server and exchange demo packets.

Each line read from stdin is sent as a chat message. Lines starting
with "/echo " are sent as Echo packets and "/ping" sends a Ping.
Every packet received is printed.

Examples:
  vsock dial ws://localhost:8080/socket
  vsock dial ws://localhost:8080/socket --room=dev --name=ava
  echo hello | vsock dial ws://localhost:8080/socket --ping`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := dialURL(args[0], room, name)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDial(ctx, cmd, target, ping)
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "", "Room to join (default "+demo.DefaultRoom+")")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().BoolVar(&ping, "ping", false, "Send a Ping after connecting")

	return cmd
}

// dialURL validates rawURL and adds the room and name parameters.
func dialURL(rawURL, room, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return "", errors.New("E401").
			WithDetailf("%q is not a ws:// or wss:// URL", rawURL).
			WithSuggestion("Try ws://localhost:8080/socket")
	}
	q := u.Query()
	if room != "" {
		q.Set("room", room)
	}
	if name != "" {
		q.Set("name", name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runDial(ctx context.Context, cmd *cobra.Command, target string, ping bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.Logger(cmd.ErrOrStderr())
	out := cmd.OutOrStdout()

	packets := demo.NewPackets()
	printer := newPrinter(packets, out)

	connCfg := cfg.SocketConfig(logger)
	connCfg.SendFingerprint = true

	c, err := socket.Dial(ctx, target, packets.Schema, connCfg, printFrames(printer, out))
	if err != nil {
		if stderrors.Is(err, socket.ErrSchemaMismatch) {
			return errors.New("E300").
				WithSuggestion("Upgrade the client or server so both speak " + demo.SchemaName + " v" + demo.SchemaVersion).
				Wrap(err)
		}
		return errors.New("E201").
			WithSuggestion("Is 'vsock serve' running at " + target + "?").
			Wrap(err)
	}
	defer c.Close()

	success(cmd, "Connected to %s", target)

	if ping {
		if err := socket.Notify(ctx, c, packets.Ping); err != nil {
			return errors.New("E203").Wrap(err)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.Done():
			if err := c.Err(); err != nil {
				return errors.New("E202").Wrap(err)
			}
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sendLine(ctx, c, packets, line); err != nil {
				return errors.New("E203").Wrap(err)
			}
		}
	}
}

// sendLine sends one stdin line as the packet it names.
func sendLine(ctx context.Context, c *socket.Conn, p *demo.Packets, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/ping":
		return socket.Notify(ctx, c, p.Ping)
	case strings.HasPrefix(line, "/echo "):
		return socket.Send(ctx, c, p.Echo, strings.TrimPrefix(line, "/echo "))
	default:
		return socket.Send(ctx, c, p.Chat, demo.ChatMessage{Text: line})
	}
}

// newPrinter returns a Dispatch that prints every demo packet to w.
func newPrinter(p *demo.Packets, w io.Writer) *dispatch.Dispatch {
	d := dispatch.New()
	d.OnDecodeError = func(id protocol.ID, err error) {
		fmt.Fprintf(w, "! packet %d: %v\n", id, err)
	}

	dispatch.Handle(d, p.Pong, func(protocol.None) {
		fmt.Fprintln(w, "< pong")
	})
	dispatch.Handle(d, p.Echo, func(text string) {
		fmt.Fprintf(w, "< echo %s\n", text)
	})
	dispatch.Handle(d, p.Chat, func(m demo.ChatMessage) {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Room, m.From, m.Text)
	})
	dispatch.Handle(d, p.Joined, func(m demo.Presence) {
		fmt.Fprintf(w, "* %s joined %s (%d online)\n", m.Name, m.Room, m.Members)
	})
	dispatch.Handle(d, p.Left, func(m demo.Presence) {
		fmt.Fprintf(w, "* %s left %s (%d online)\n", m.Name, m.Room, m.Members)
	})
	return d
}

// printFrames routes every inbound frame the connection router did not
// deliver to d. The dial command subscribes to nothing, so that is every
// frame.
func printFrames(d *dispatch.Dispatch, w io.Writer) socket.Middleware {
	return socket.MiddlewareFuncs{
		FrameFunc: func(next socket.FrameFunc) socket.FrameFunc {
			return func(ctx context.Context, c *socket.Conn, data []byte) router.Outcome {
				out := next(ctx, c, data)
				if out.Delivered {
					return out
				}
				if out.Drop != nil && out.Drop.Reason == router.DropMalformed {
					fmt.Fprintf(w, "! malformed frame %q\n", data)
					return out
				}
				if !d.Route(out.Sealed) {
					fmt.Fprintf(w, "< unknown packet %d\n", out.Sealed.ID)
				}
				return out
			}
		},
	}
}
