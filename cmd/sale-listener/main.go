package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tcgledger/internal/config"
	"tcgledger/internal/listener"
	"tcgledger/internal/mail"
	gmailconnector "tcgledger/internal/mail/gmail"
	imapconnector "tcgledger/internal/mail/imap"
	"tcgledger/internal/recon"
	"tcgledger/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	var conn mail.Connector
	switch strings.ToLower(strings.TrimSpace(cfg.MailProvider)) {
	case "gmail":
		conn, err = gmailconnector.NewConnector(cfg)
	case "imap":
		conn, err = imapconnector.NewConnector(cfg)
	default:
		err = fmt.Errorf("unsupported provider: %s", cfg.MailProvider)
	}
	must(err)

	controller := recon.NewController(db, conn, cfg)
	l := listener.New(controller, time.Duration(cfg.ListenerIntervalSec)*time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(l.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
