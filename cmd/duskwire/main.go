// Command duskwire is the reference embedder for the core library: it
// loads an identity, dials the relay broker, and drives the event loop
// from internal/core, printing decrypted events to stdout and reading
// "/to <peer> <message>" and "/handshake <peer>" lines from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/duskwire/duskwire/internal/config"
	"github.com/duskwire/duskwire/internal/core"
	"github.com/duskwire/duskwire/internal/events"
	"github.com/duskwire/duskwire/internal/identity"
	"github.com/duskwire/duskwire/internal/msglog"
	"github.com/duskwire/duskwire/internal/relay"
	"github.com/duskwire/duskwire/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	log.Printf("duskwire starting as %q, broker %s", cfg.Username, cfg.BrokerURL)

	id, err := identity.LoadOrCreate(cfg.IdentityKeyPath)
	if err != nil {
		log.Fatalf("FATAL: loading identity: %v", err)
	}

	msgLog, err := msglog.Open(cfg.MessageLogPath)
	if err != nil {
		log.Fatalf("FATAL: opening message log: %v", err)
	}
	defer func() {
		if err := msgLog.Close(); err != nil {
			log.Printf("Warning: failed to close message log: %v", err)
		}
	}()

	adapter := relay.NewAdapter(cfg.BrokerURL, cfg.Username)
	client := core.NewClient(session.PeerName(cfg.Username), id, adapter, msgLog)

	if err := client.RegisterSink(events.SyncFunc(printEvent)); err != nil {
		log.Fatalf("FATAL: registering sink: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	go readStdinCommands(ctx, client)

	select {
	case sig := <-quit:
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	case err := <-runDone:
		if err != nil && err != context.Canceled {
			log.Printf("event loop stopped: %v", err)
		}
	}

	if err := client.Close(); err != nil {
		log.Printf("Warning: close error: %v", err)
	}
}

func printEvent(e events.Event) {
	switch e.Kind {
	case events.KindHandshakeSuccess:
		fmt.Printf("[established] %s\n", e.Peer)
	case events.KindMessage:
		fmt.Printf("%s: %s\n", e.Peer, e.Text)
	case events.KindSystem:
		fmt.Printf("[system] %s\n", e.Text)
	}
}

// readStdinCommands parses "/to peer message text" lines from stdin and a
// bare "/handshake peer" to initiate a session, relaying errors to stderr.
func readStdinCommands(ctx context.Context, client *core.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 || (fields[0] != "/to" && fields[0] != "/handshake") {
			fmt.Fprintln(os.Stderr, "usage: /to <peer> <message>  |  /handshake <peer>")
			continue
		}

		if fields[0] == "/handshake" {
			if err := client.InitiateHandshake(session.PeerName(fields[1])); err != nil {
				fmt.Fprintf(os.Stderr, "handshake error: %v\n", err)
			}
			continue
		}

		if len(fields) < 3 {
			fmt.Fprintln(os.Stderr, "usage: /to <peer> <message>")
			continue
		}
		if err := client.SendMessage(session.PeerName(fields[1]), fields[2]); err != nil {
			// SendMessage already queued the message internally on
			// ErrNoSession; it is delivered once handshake_success fires.
			fmt.Fprintf(os.Stderr, "send error (queued if no session yet): %v\n", err)
		}
	}
}
