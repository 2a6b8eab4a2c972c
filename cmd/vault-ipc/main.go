// Package main is the entrypoint for vault-ipc.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/morezero/vault-ipc/internal/config"
	"github.com/morezero/vault-ipc/internal/server"
	"github.com/morezero/vault-ipc/pkg/client"
	"github.com/morezero/vault-ipc/pkg/commsutil"
	"github.com/morezero/vault-ipc/pkg/events"
	"github.com/morezero/vault-ipc/pkg/ipc"
	"github.com/morezero/vault-ipc/pkg/peers"
	"github.com/morezero/vault-ipc/pkg/transport"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const usage = `Usage: vault-ipc [command]
       vault-ipc serve                              Start a node (NATS, HTTP, system service).
       vault-ipc describe <uri> <tag>               Print the interface of a remote service.
       vault-ipc call <uri> <tag> <method> [args]   Call a remote method and print the result.

Commands:
  serve      (default) Host the system service under IPC_IDENTITY until SIGINT/SIGTERM.
  describe   Connect to <tag> (optionally tag@range) at <uri> or a peer alias and print its members.
  call       Invoke <method>. Each arg is parsed as JSON; anything else is sent as a string.
             Stream methods print every message until IPC_CLI_TIMEOUT or interrupt.
  help       Show this help.

Environment: COMMS_URL, IPC_IDENTITY, IPC_PEERS_FILE, IPC_ALLOWED_ORIGINS, CALL_TIMEOUT, READY_MODE,
             IPC_CLI_IDENTITY, IPC_CLI_TIMEOUT, HTTP_PORT, LOG_LEVEL. See README for full list.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "describe":
		if len(args) != 3 {
			log.Fatalf("vault-ipc describe: require <uri> <tag>")
		}
		if err := runDescribe(args[1], args[2], os.Stdout); err != nil {
			log.Fatalf("vault-ipc describe: %v", err)
		}
		return
	case "call":
		if len(args) < 4 {
			log.Fatalf("vault-ipc call: require <uri> <tag> <method> [args...]")
		}
		if err := runCall(args[1], args[2], args[3], args[4:], os.Stdout); err != nil {
			log.Fatalf("vault-ipc call: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("vault-ipc: %v", err)
	}
}

func runDescribe(uri, tag string, out io.Writer) error {
	return withClient(uri, tag, func(ctx context.Context, c *client.Client) error {
		return printJSON(out, map[string]interface{}{
			"uri":       c.URI(),
			"tag":       c.Tag(),
			"version":   c.Version(),
			"interface": c.Interface(),
		})
	})
}

func runCall(uri, tag, method string, rawArgs []string, out io.Writer) error {
	args := parseArgs(rawArgs)
	return withClient(uri, tag, func(ctx context.Context, c *client.Client) error {
		if c.StreamMethod(method) == nil {
			result, err := c.Invoke(ctx, method, args...)
			if err != nil {
				return err
			}
			return printJSON(out, result)
		}

		port, err := c.Stream(ctx, method, args...)
		if err != nil {
			return err
		}
		defer port.Close()
		return printStream(ctx, port, out)
	})
}

// printStream prints stream messages until an end-of-stream marker, the
// port closes or ctx ends.
func printStream(ctx context.Context, port transport.Port, out io.Writer) error {
	for {
		data, err := port.Receive(ctx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrPortClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		if server.IsEndOfStream(data) {
			return nil
		}
	}
}

// parseArgs decodes each argument as JSON; arguments that are not valid
// JSON are passed as strings.
func parseArgs(raw []string) []interface{} {
	args := make([]interface{}, 0, len(raw))
	for _, a := range raw {
		if json.Valid([]byte(a)) {
			args = append(args, json.RawMessage(a))
			continue
		}
		args = append(args, a)
	}
	return args
}

func printJSON(out io.Writer, v interface{}) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded interface{}
		if err := wire.DecodeResult(raw, &decoded); err != nil {
			return err
		}
		v = decoded
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withClient starts a short-lived node under IPC_CLI_IDENTITY, connects to
// tag at uri and runs fn.
func withClient(uri, tag string, fn func(ctx context.Context, c *client.Client) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForClient(); err != nil {
		return err
	}

	manifest, err := peers.LoadManifest(cfg.PeersFile)
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	nodeCfg := ipc.DefaultConfig()
	nodeCfg.Identity = cfg.CLIIdentity
	nodeCfg.ProtocolConstraint = cfg.ProtocolConstraint
	nodeCfg.ReadyMode = events.ModeNone
	node, err := ipc.NewNode(ipc.NewNodeParams{
		Bus:       transport.NewCommsBus(nc),
		Config:    nodeCfg,
		Directory: peers.NewDirectory(manifest),
	})
	if err != nil {
		return err
	}
	defer node.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.CLITimeout)
	defer cancel()

	if err := node.Start(ctx); err != nil {
		return err
	}
	c, err := node.CreateClient(ctx, uri, tag)
	if err != nil {
		return fmt.Errorf("connect %s at %s: %w", tag, uri, err)
	}
	return fn(ctx, c)
}
