// Command haltty-demo drives an interactive shell as a synchronous
// request/response console: each line typed is sent to the shell as one
// "call", and whatever the shell produces before it blocks on its next
// read is printed as the "reply".
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/x-qdo/haltty"
)

func main() {
	haltty.Init()

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "sh"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cols, rows := uint16(80), uint16(24)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			cols, rows = uint16(w), uint16(h)
		}
	}

	opts := []haltty.Option{
		haltty.WithWinsize(cols, rows),
		haltty.WithLogger(logger),
	}
	if rec := os.Getenv("HALTTY_RECORD_TO"); rec != "" {
		f, err := os.Create(rec)
		if err != nil {
			exit(err, 2)
		}
		defer f.Close()
		opts = append(opts, haltty.WithRecording(f))
	}

	session, err := haltty.Spawn([]string{shell, "-i"}, opts...)
	if err != nil {
		exit(err, 1)
	}
	defer session.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGWINCH)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGWINCH {
				if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
					_ = session.Resize(uint16(w), uint16(h))
				}
				continue
			}
			fmt.Fprintln(os.Stderr, "haltty-demo: signal received, closing session")
			session.Close()
			os.Exit(130)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("haltty-demo: type a command and press enter (Ctrl-D to exit)")
	for scanner.Scan() {
		if !session.IsActive() {
			fmt.Println("haltty-demo: session is no longer active")
			break
		}
		if _, err := session.Write(append(scanner.Bytes(), '\n')); err != nil {
			exit(err, 3)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		out, err := session.Recv(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "haltty-demo: recv: %v\n", err)
			continue
		}
		os.Stdout.Write(out)
	}
}

func exit(err error, code int) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "haltty-demo: %v\n", err)
	}
	os.Exit(code)
}
