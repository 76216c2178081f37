// Package inline stands in for the queue when NATS is not configured: events
// are handled in-process on a background goroutine.
package inline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

type Handler func(context.Context, domain.VersionAddedEvent) error

type Publisher struct {
	handler Handler
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewPublisher(handler Handler, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Publisher{handler: handler, timeout: timeout}
}

// PublishVersionAdded returns immediately. The handler runs detached from the
// request context so a finished response does not cancel delivery.
func (p *Publisher) PublishVersionAdded(ctx context.Context, event domain.VersionAddedEvent) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.handler(handlerCtx, event); err != nil {
			slog.Error("version_added_inline_failed",
				"document_id", event.DocumentID,
				"version_id", event.VersionID,
				"error", err,
			)
		}
	}()
	return nil
}

// Wait blocks until in-flight handlers return; used on shutdown.
func (p *Publisher) Wait() {
	p.wg.Wait()
}
