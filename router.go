// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"context"

	"go.uber.org/zap"
)

// A router delivers decoded events. Responses go to the correlator, and all
// other events go to the handlers of registered listeners.
type router struct {
	log   *zap.Logger
	lst   *listenerTable
	calls *correlator
}

// route delivers ev. It returns the number of handlers that were called.
// Responses are never passed to listeners.
func (r *router) route(ctx context.Context, ev *Event) int {
	if ev.Responding {
		r.calls.resolve(ev.RespondingTo, ev)
		return 0
	}
	hs := r.lst.match(ev.Packet)
	if len(hs) == 0 {
		r.log.Debug("no handlers for packet", zap.String("type", ev.Type), zap.Stringer("id", ev.ID))
		return 0
	}
	for _, h := range hs {
		r.dispatch(ctx, h, ev)
	}
	return len(hs)
}

// dispatch calls h with ev, logging any error or panic it reports.
func (r *router) dispatch(ctx context.Context, h Handler, ev *Event) {
	defer func() {
		if x := recover(); x != nil {
			rootMetrics.handlerFailed.Add(1)
			r.log.Error("handler panicked (recovered)",
				zap.String("type", ev.Type), zap.Stringer("id", ev.ID), zap.Any("panic", x))
		}
	}()
	rootMetrics.handlerCalls.Add(1)
	if err := h.fn(ctx, ev); err != nil {
		rootMetrics.handlerFailed.Add(1)
		r.log.Warn("handler failed",
			zap.String("type", ev.Type), zap.Stringer("id", ev.ID), zap.Error(err))
	}
}
