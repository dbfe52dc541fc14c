package http

import (
	"github.com/nats-io/nats.go"

	"github.com/sigmap/terrascene/internal/adapters/postgres"
	"github.com/sigmap/terrascene/internal/adapters/valkey"
	"github.com/sigmap/terrascene/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Runs  *usecases.RunService
	NATS  *nats.Conn
	DB    *postgres.DB
	Cache *valkey.Cache
}
