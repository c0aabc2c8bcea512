package repository

import (
	"github.com/acastrillo/spotbuddy/internal/pkg/database"
)

// NewRepositories wires the DynamoDB repositories onto one shared client.
func NewRepositories(client DynamoAPI, cfg *database.Config) *Repositories {
	tables := TableConfigFrom(cfg)
	return &Repositories{
		Accounts: NewAccountRepository(client, tables),
		Counters: NewCounterRepository(client, tables),
		Ledger:   NewLedgerRepository(client, tables),
	}
}

// TableConfigFrom maps the database configuration onto table names.
func TableConfigFrom(cfg *database.Config) TableConfig {
	return TableConfig{
		AccountsTable:   cfg.AccountsTable,
		LedgerTable:     cfg.LedgerTable,
		EmailIndex:      cfg.EmailIndex,
		CustomerIndex:   cfg.CustomerIndex,
		CallTimeout:     cfg.CallTimeout,
		LedgerRetention: cfg.LedgerRetention,
	}
}
