package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/model"
)

// ErrTransport marks a request that failed as a whole: the service could not
// be reached or refused the envelope. Unlike a rejected sub-request it says
// nothing about the record, so the batch has to be retried.
var ErrTransport = errors.New("business central request failed")

// transportClient tags every error returned by the wrapped client with
// ErrTransport. Sub-request failures arrive as responses and are untouched.
type transportClient struct {
	dynamics.Client
}

func (c transportClient) MakeBatchRequest(ctx context.Context, reqs []dynamics.Request, mode dynamics.TransactionMode) ([]dynamics.Response, error) {
	resps, err := c.Client.MakeBatchRequest(ctx, reqs, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return resps, nil
}

func (c transportClient) GetEntities(ctx context.Context, entityType string, params dynamics.Params, filters []dynamics.Filter, expand string) ([]model.Entity, error) {
	found, err := c.Client.GetEntities(ctx, entityType, params, filters, expand)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return found, nil
}

func (d Deps) guarded() Deps {
	if _, ok := d.Client.(transportClient); !ok && d.Client != nil {
		d.Client = transportClient{d.Client}
	}
	return d
}
