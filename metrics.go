// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import "expvar"

// nodeMetrics record node activity counters.
type nodeMetrics struct {
	packetRecv       expvar.Int
	packetSent       expvar.Int
	packetDropped    expvar.Int // malformed or undecodable messages
	echoDropped      expvar.Int // own packets not marked for self delivery
	sendFailed       expvar.Int // transport failures on publish
	handlerCalls     expvar.Int
	handlerFailed    expvar.Int // handlers and callbacks that failed or panicked
	callbackPending  expvar.Int
	callbackResolved expvar.Int
	callbackExpired  expvar.Int
	responseDropped  expvar.Int // responses with no matching callback
	resubscribes     expvar.Int

	emap *expvar.Map
}

var rootMetrics = newNodeMetrics()

func newNodeMetrics() *nodeMetrics {
	nm := &nodeMetrics{emap: new(expvar.Map)}
	nm.emap.Set("packets_received", &nm.packetRecv)
	nm.emap.Set("packets_sent", &nm.packetSent)
	nm.emap.Set("packets_dropped", &nm.packetDropped)
	nm.emap.Set("echoes_dropped", &nm.echoDropped)
	nm.emap.Set("sends_failed", &nm.sendFailed)
	nm.emap.Set("handler_calls", &nm.handlerCalls)
	nm.emap.Set("handlers_failed", &nm.handlerFailed)
	nm.emap.Set("callbacks_pending", &nm.callbackPending)
	nm.emap.Set("callbacks_resolved", &nm.callbackResolved)
	nm.emap.Set("callbacks_expired", &nm.callbackExpired)
	nm.emap.Set("responses_dropped", &nm.responseDropped)
	nm.emap.Set("resubscribes", &nm.resubscribes)
	return nm
}
