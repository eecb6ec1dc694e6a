// Package events carries episode change notifications from workers to the
// processes serving feeds.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"content-podcaster/internal/models"
)

// Handler receives decoded events.
type Handler func(ctx context.Context, ev models.InvalidationEvent)

type Publisher interface {
	Publish(ctx context.Context, ev models.InvalidationEvent) error
	Close() error
}

// Subscriber delivers events to handle until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, handle Handler) error
	Close() error
}

func Encode(ev models.InvalidationEvent) ([]byte, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

func Decode(data []byte) (models.InvalidationEvent, error) {
	var ev models.InvalidationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.InvalidationEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := validate(ev); err != nil {
		return models.InvalidationEvent{}, err
	}
	return ev, nil
}

func validate(ev models.InvalidationEvent) error {
	if ev.FeedSlug == "" {
		return errors.New("event without feed_slug")
	}
	switch ev.ChangeKind {
	case models.ChangeCreated, models.ChangeUpdated, models.ChangeDeleted:
	default:
		return fmt.Errorf("event with unknown change_kind %q", ev.ChangeKind)
	}
	return nil
}

// Nop drops published events and never delivers any. It is used when feeds
// are served by the same process that changes episodes, or for local runs.
type Nop struct{}

func (Nop) Publish(context.Context, models.InvalidationEvent) error { return nil }

func (Nop) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (Nop) Close() error { return nil }
