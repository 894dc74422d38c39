// Package main provides a command-line client for the lobby server's gRPC
// transport. Each stdin line is sent as one JSON object; each event is
// printed as one JSON line.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cory-johannsen/lobber/internal/frontend/rpc"
	"github.com/cory-johannsen/lobber/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50051", "lobby server gRPC address")
	username := flag.String("login", "", "log in with this username before reading stdin")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := rpc.Dial(ctx, *addr)
	if err != nil {
		log.Fatalf("dialing %s: %v", *addr, err)
	}
	defer client.Close()

	if *username != "" {
		if err := client.Send(protocol.Message{Cmd: "login", Username: *username}); err != nil {
			log.Fatalf("logging in: %v", err)
		}
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := client.SendJSON([]byte(line)); err != nil {
				log.Printf("sending: %v", err)
			}
		}
		_ = client.CloseSend()
	}()

	for {
		ev, err := client.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("receiving: %v", err)
		}
		data, err := protocol.Encode(ev)
		if err != nil {
			log.Printf("encoding: %v", err)
			continue
		}
		fmt.Println(string(data))
	}
}
