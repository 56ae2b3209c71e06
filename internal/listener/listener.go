package listener

import (
	"context"
	"fmt"
	"time"

	"tcgledger/internal/recon"
)

type Listener struct {
	controller *recon.Controller
	interval   time.Duration
}

func New(controller *recon.Controller, interval time.Duration) *Listener {
	return &Listener{controller: controller, interval: interval}
}

func (l *Listener) Run(ctx context.Context) error {
	fmt.Printf("listening for sale notifications every %s\n", l.interval)

	for {
		report, err := l.controller.Scan(ctx)
		if err != nil {
			fmt.Printf("listener cycle error: %v\n", err)
		} else if report.Coalesced {
			fmt.Println("listener cycle skipped (cooldown or scan in flight)")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.interval):
		}
	}
}
