// Package notify runs the periodic expiry sweep. It walks every active
// document item, recomputes its lifecycle status, and mails the owner when
// the item crosses into a worse state than the one last notified.
package notify

import (
	"context"
	"log"
	"time"

	"qualidoc/api/internal/lifecycle"
	"qualidoc/api/internal/store"
)

// Store lists sweep candidates and records which state was last notified.
type Store interface {
	ListNotificationCandidates(ctx context.Context) ([]store.NotificationCandidate, error)
	SetItemNotifiedStatus(ctx context.Context, itemID, status string) error
}

// Mailer delivers expiry notices. Satisfied by email.Service.
type Mailer interface {
	IsConfigured() bool
	SendExpiryNotice(to, userName, documentTitle, itemTitle, status string, expiration time.Time) error
}

// Notifier sweeps items on a fixed interval.
type Notifier struct {
	store    Store
	mailer   Mailer
	clock    lifecycle.Clock
	interval time.Duration
}

func New(st Store, mailer Mailer, clock lifecycle.Clock, interval time.Duration) *Notifier {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Notifier{store: st, mailer: mailer, clock: clock, interval: interval}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	if sent, err := n.Sweep(ctx); err != nil {
		log.Printf(`{"level":"error","component":"notify","error":%q}`, err.Error())
	} else if sent > 0 {
		log.Printf(`{"level":"info","component":"notify","notices_sent":%d}`, sent)
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sent, err := n.Sweep(ctx); err != nil {
				log.Printf(`{"level":"error","component":"notify","error":%q}`, err.Error())
			} else if sent > 0 {
				log.Printf(`{"level":"info","component":"notify","notices_sent":%d}`, sent)
			}
		}
	}
}

// Sweep recomputes each candidate's status and sends at most one notice per
// state transition. It returns the number of notices sent. Per-item failures
// are logged and skipped so one bad address cannot stall the whole sweep.
func (n *Notifier) Sweep(ctx context.Context) (int, error) {
	candidates, err := n.store.ListNotificationCandidates(ctx)
	if err != nil {
		return 0, err
	}

	today := n.clock.Today()
	sent := 0

	for _, c := range candidates {
		if c.ExpirationDate == nil {
			continue
		}

		unit := lifecycle.ParseUnit(c.NotificationUnit)
		status := lifecycle.Compute(c.ExpirationDate, c.NotificationValue, unit, today)
		if status == lifecycle.StatusValid || string(status) == c.LastNotifiedStatus {
			continue
		}

		if n.mailer != nil && n.mailer.IsConfigured() && c.OwnerEmail != "" {
			if err := n.mailer.SendExpiryNotice(c.OwnerEmail, c.OwnerName, c.DocumentTitle, c.ItemTitle, string(status), *c.ExpirationDate); err != nil {
				log.Printf(`{"level":"error","component":"notify","item":%q,"error":%q}`, c.ItemID, err.Error())
				continue
			}
			sent++
		}

		// Record the transition even without a mailer so a later
		// configuration change does not replay old notices.
		if err := n.store.SetItemNotifiedStatus(ctx, c.ItemID, string(status)); err != nil {
			log.Printf(`{"level":"error","component":"notify","item":%q,"error":%q}`, c.ItemID, err.Error())
		}
	}

	return sent, nil
}
