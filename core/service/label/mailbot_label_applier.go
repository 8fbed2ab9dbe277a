// Package label makes sure category labels exist and are attached to threads.
package label

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"mailbot/core/port/out"

	"github.com/rs/zerolog"
)

// Applier resolves label names to mailbox ids and applies them to threads.
// The name to id cache is shared by all workers.
type Applier struct {
	mailbox out.MailboxPort
	log     zerolog.Logger

	mu  sync.Mutex
	ids map[string]string
}

// NewApplier creates a label applier backed by mailbox.
func NewApplier(mailbox out.MailboxPort, log zerolog.Logger) *Applier {
	return &Applier{
		mailbox: mailbox,
		log:     log.With().Str("component", "label_applier").Logger(),
		ids:     make(map[string]string),
	}
}

// EnsureLabelApplied creates labelName when missing and attaches it to the thread.
// Applying a label that is already present is a no-op for the caller.
func (a *Applier) EnsureLabelApplied(ctx context.Context, threadID, labelName string) error {
	labelName = strings.TrimSpace(labelName)
	if labelName == "" {
		return nil
	}
	if threadID == "" {
		return fmt.Errorf("apply label %q: empty thread id", labelName)
	}

	labelID, err := a.resolve(ctx, labelName)
	if err != nil {
		return err
	}

	err = a.mailbox.ApplyLabel(ctx, threadID, labelID)
	if err == nil {
		return nil
	}

	// The label may have been deleted in the mailbox since it was cached.
	if out.RemoteCode(err) == out.RemoteErrNotFound || out.RemoteCode(err) == out.RemoteErrInvalidInput {
		a.forget(labelName)
		labelID, rerr := a.resolve(ctx, labelName)
		if rerr != nil {
			return rerr
		}
		if err = a.mailbox.ApplyLabel(ctx, threadID, labelID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("apply label %q to thread %s: %w", labelName, threadID, err)
}

// LabelID returns the mailbox id for labelName, creating it when missing.
func (a *Applier) LabelID(ctx context.Context, labelName string) (string, error) {
	return a.resolve(ctx, strings.TrimSpace(labelName))
}

// Warm resolves every name up front. Failures are logged and left for the
// first apply to retry.
func (a *Applier) Warm(ctx context.Context, names []string) {
	for _, name := range names {
		if _, err := a.resolve(ctx, name); err != nil {
			a.log.Warn().Err(err).Str("label", name).Msg("label warm-up failed")
		}
	}
}

func (a *Applier) resolve(ctx context.Context, name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := strings.ToLower(name)
	if id, ok := a.ids[key]; ok {
		return id, nil
	}

	id, err := a.mailbox.EnsureLabel(ctx, name)
	if errors.Is(err, out.ErrLabelExists) {
		// Lost a creation race; the second call finds the existing label.
		id, err = a.mailbox.EnsureLabel(ctx, name)
	}
	if err != nil {
		return "", fmt.Errorf("ensure label %q: %w", name, err)
	}

	a.ids[key] = id
	a.log.Debug().Str("label", name).Str("label_id", id).Msg("label resolved")
	return id, nil
}

func (a *Applier) forget(name string) {
	a.mu.Lock()
	delete(a.ids, strings.ToLower(name))
	a.mu.Unlock()
}
