package main

import (
	"fmt"

	"github.com/mcdev12/tapduel/go/internal/duel/transport"
	"github.com/mcdev12/tapduel/go/internal/duel/transport/natsbus"
	"github.com/mcdev12/tapduel/go/internal/duel/transport/wsrelay"
)

// newTransport builds the configured peer transport. The returned cleanup
// releases anything the transport does not own.
func newTransport(cfg Config) (transport.Transport, func(), error) {
	switch cfg.Transport {
	case "relay", "ws":
		return wsrelay.New(wsrelay.DefaultConfig(cfg.RelayURL)), func() {}, nil
	case "nats":
		busCfg := natsbus.DefaultConfig()
		busCfg.URL = cfg.NatsURL
		nc, err := natsbus.Dial(busCfg)
		if err != nil {
			return nil, nil, err
		}
		return natsbus.New(nc, busCfg), nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q (want relay or nats)", cfg.Transport)
	}
}
