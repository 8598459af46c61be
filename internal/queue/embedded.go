// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/tejzpr/companion-memory/internal/config"
)

// StartEmbedded runs an in-process NATS server. Port -1 picks a random port.
func StartEmbedded(port int, logger *log.Logger) (*server.Server, error) {
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: port, NoSigs: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go s.Start()

	if !s.ReadyForConnections(10 * time.Second) {
		s.Shutdown()
		return nil, errors.New("NATS server not ready in time")
	}

	if logger != nil {
		logger.Info("started embedded NATS server", "url", s.ClientURL())
	}
	return s, nil
}

// Connect dials the configured NATS URL, or starts an embedded server when
// cfg.Embedded is set. The returned server is nil unless embedded.
func Connect(cfg config.QueueConfig, logger *log.Logger) (*nats.Conn, *server.Server, error) {
	url := cfg.URL
	var embedded *server.Server
	if cfg.Embedded {
		s, err := StartEmbedded(server.RANDOM_PORT, logger)
		if err != nil {
			return nil, nil, err
		}
		embedded = s
		url = s.ClientURL()
	}

	conn, err := nats.Connect(url, nats.Name("companion-worker"))
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, embedded, nil
}
