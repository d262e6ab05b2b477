package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/gochat/internal/chatclient"
)

func main() {
	addr := flag.String("addr", chatclient.DefaultAddr, "server address")
	nickname := flag.String("nick", "", "nickname (prompted when empty)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := chatclient.Run(ctx, chatclient.Config{Addr: *addr, Nickname: *nickname}, os.Stdin, os.Stdout)
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
