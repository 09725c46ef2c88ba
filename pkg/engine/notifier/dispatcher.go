// Package notifier delivers per-author reminder messages.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/DrSkyle/todoslash/pkg/engine/policy"
	"github.com/DrSkyle/todoslash/pkg/lark"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Messenger sends a text message to one destination. *lark.Client satisfies it.
type Messenger interface {
	SendText(ctx context.Context, dest lark.Destination, text string) error
}

// DeliveryError reports a failed delivery to one author.
type DeliveryError struct {
	Email       string
	Destination lark.Destination
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (%s %s): %v", e.Email, e.Destination.Kind, e.Destination.ID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Report records what a Dispatch did per author email.
type Report struct {
	Sent    []string
	Skipped []string
	Failed  []string
}

// Dispatcher renders and delivers author groups.
type Dispatcher struct {
	Messenger Messenger
	Renderer  Renderer
	// Kind is how destination ids are interpreted. Defaults to lark.KindUserID.
	Kind   lark.DestinationKind
	Logger *slog.Logger
	// DryRun renders messages without sending them. Rendered authors are reported as sent.
	DryRun bool
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Logger
}

// Dispatch delivers one message per author that has an entry in destinations.
// Authors without a destination are skipped. Deliveries run concurrently and each one settles
// independently; the returned error joins every *DeliveryError in author order.
// The returned groups are always the full input, skipped authors included.
func (d *Dispatcher) Dispatch(ctx context.Context, groups policy.Groups, destinations map[string]string) (policy.Groups, *Report, error) {
	ctx, span := otel.Tracer("todoslash/notifier").Start(ctx, "notifier.Dispatch")
	defer span.End()

	renderer := d.Renderer
	if renderer == nil {
		renderer = DefaultRenderer
	}
	kind := d.Kind
	if kind == "" {
		kind = lark.KindUserID
	}
	log := d.logger()

	emails := groups.Emails()
	errs := make([]error, len(emails))
	attempted := make([]bool, len(emails))

	var wg sync.WaitGroup
	for i, email := range emails {
		id, ok := destinations[email]
		if !ok || id == "" {
			log.Debug("No destination for author, skipping", "email", email)
			continue
		}
		attempted[i] = true
		dest := lark.Destination{Kind: kind, ID: id}
		text := renderer.Render(groups[email])

		if d.DryRun {
			log.Info("Dry run: reminder not sent", "email", email, "destination", id, "todos", len(groups[email]))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Messenger.SendText(ctx, dest, text); err != nil {
				errs[i] = &DeliveryError{Email: email, Destination: dest, Err: err}
			}
		}()
	}
	wg.Wait()

	report := &Report{}
	for i, email := range emails {
		switch {
		case !attempted[i]:
			report.Skipped = append(report.Skipped, email)
		case errs[i] != nil:
			report.Failed = append(report.Failed, email)
			log.Warn("Reminder delivery failed", "email", email, "error", errs[i])
		default:
			report.Sent = append(report.Sent, email)
		}
	}
	span.SetAttributes(
		attribute.Int("sent", len(report.Sent)),
		attribute.Int("skipped", len(report.Skipped)),
		attribute.Int("failed", len(report.Failed)),
	)

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failures")
	}
	return groups, report, err
}
