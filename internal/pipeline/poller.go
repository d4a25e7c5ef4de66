package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/model"
)

// StatusFunc observes each status the poller reads.
type StatusFunc func(status model.RenderStatus, attempt int)

// Poller checks a render job on a fixed cadence until it reaches a terminal state.
type Poller struct {
	api         client.RenderAPI
	interval    time.Duration
	maxDuration time.Duration
}

// NewPoller creates a poller. maxDuration of 0 polls until a terminal state.
func NewPoller(api client.RenderAPI, interval, maxDuration time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		api:         api,
		interval:    interval,
		maxDuration: maxDuration,
	}
}

// Poll issues one status request per tick, never overlapping, and returns on
// succeeded, failed, the first transport error, the duration cap, or ctx cancellation.
func (p *Poller) Poll(ctx context.Context, token, jobURL string, onStatus StatusFunc) (model.RenderStatus, error) {
	var deadline time.Time
	if p.maxDuration > 0 {
		deadline = time.Now().Add(p.maxDuration)
	}

	for attempt := 1; ; attempt++ {
		doc, err := p.api.Status(ctx, token, jobURL)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
			}
			return "", fmt.Errorf("%w: %w", ErrPollTransport, err)
		}

		status := doc.Resolve()
		if onStatus != nil {
			onStatus(status, attempt)
		}

		switch status {
		case model.RenderStatusSucceeded:
			return status, nil
		case model.RenderStatusFailed:
			return status, fmt.Errorf("%w: %s", ErrJobFailed, failureDetail(doc))
		}

		if !deadline.IsZero() && time.Now().Add(p.interval).After(deadline) {
			log.Printf("[Poller] job %s still %s after %d checks", jobURL, status, attempt)
			return status, fmt.Errorf("%w: still %s after %s", ErrPollTimeout, status, p.maxDuration)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		case <-time.After(p.interval):
		}
	}
}

func failureDetail(doc *model.StatusDocument) string {
	if len(doc.Outputs) > 0 && doc.Outputs[0].Errors != nil {
		return fmt.Sprintf("render API reported failure: %v", doc.Outputs[0].Errors)
	}
	return "render API reported failure"
}
