package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kgp/kgpconfig"
	protocol "kgp/pkg"
)

// receiveDir is where completed inbound transfers are written.
type receiveDir struct {
	mu  sync.Mutex
	dir string
}

func (r *receiveDir) set(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir = dir
}

func (r *receiveDir) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

func onTransfer(log *zap.Logger, dir *receiveDir) func(protocol.Transfer) {
	return func(t protocol.Transfer) {
		fmt.Printf("Transfer %s (%s, %s): %s, %d bytes\n", t.ID, t.Role, t.Peer, t.Outcome, t.Bytes)
		if t.Role != protocol.RoleReceiver || t.Outcome != protocol.OutcomeCompleted {
			return
		}
		path := filepath.Join(dir.get(), t.ID.String()+".kgp")
		if err := os.WriteFile(path, t.Data, 0o644); err != nil {
			log.Error("could not write received file", zap.String("path", path), zap.Error(err))
			return
		}
		fmt.Println("Wrote " + path)
	}
}

func printHelp() {
	fmt.Println("Commands:\n" +
		"  sf <file> <addr> [port]  send a file\n" +
		"  rf <dir>                 directory for received files\n" +
		"  st                       connection state\n" +
		"  reset                    abort the active connection\n" +
		"  q                        quit")
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := kgpconfig.Default()
	if *configPath != "" {
		var err error
		cfg, err = kgpconfig.ParseConfig(*configPath)
		if err != nil {
			fmt.Println("error parsing config file:", err)
			os.Exit(1)
		}
	}
	log, err := cfg.BuildLogger()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	conn, err := protocol.Listen(cfg.Port, cfg.TOS)
	if err != nil {
		log.Error("could not bind", zap.Error(err))
		os.Exit(1)
	}

	dir := &receiveDir{dir: cfg.ReceiveDir}
	engine, err := protocol.NewEngine(cfg.ToEngineConfig(), conn,
		protocol.WithLogger(log),
		protocol.WithTransferFunc(onTransfer(log, dir)))
	if err != nil {
		log.Error("invalid engine config", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	served := make(chan error, 1)
	go func() { served <- protocol.Serve(ctx, engine, conn) }()

	log.Info("io engine initialized", zap.Stringer("addr", conn.LocalAddr()))
	fmt.Println("Enter command (help for usage):")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-served:
			if err != nil {
				log.Error("io engine stopped", zap.Error(err))
			}
			return
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if !runCommand(engine, dir, cfg.Port, strings.Fields(line)) {
				break loop
			}
		}
	}

	stop()
	engine.Reset()
	if err := <-served; err != nil {
		log.Error("io engine stopped", zap.Error(err))
	}
}

// runCommand executes one REPL line and returns false on quit.
func runCommand(engine *protocol.Engine, dir *receiveDir, defaultPort int, args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch args[0] {
	case "q", "quit":
		return false
	case "help":
		printHelp()
	case "st":
		fmt.Println(engine.Snapshot())
	case "reset":
		engine.Reset()
	case "rf":
		if len(args) != 2 {
			fmt.Println("Usage: rf <dir>")
			return true
		}
		if info, err := os.Stat(args[1]); err != nil || !info.IsDir() {
			fmt.Println("Not a directory: " + args[1])
			return true
		}
		dir.set(args[1])
	case "sf":
		if len(args) < 3 || len(args) > 4 {
			fmt.Println("Usage: sf <file> <addr> [port]")
			return true
		}
		port := defaultPort
		if len(args) == 4 {
			p, err := strconv.ParseUint(args[3], 10, 16)
			if err != nil {
				fmt.Println("Please enter a valid port")
				return true
			}
			port = int(p)
		}
		peer, err := protocol.ResolvePeer(args[2], uint16(port))
		if err != nil {
			fmt.Println(err)
			return true
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Println(err)
			return true
		}
		id, err := engine.StartSend(data, peer)
		if err != nil {
			fmt.Println(err)
			return true
		}
		fmt.Printf("Sending %s (%d bytes) to %s as %s\n", args[1], len(data), peer, id)
	default:
		fmt.Println("Invalid command.")
	}
	return true
}
