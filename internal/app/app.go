// Package app assembles the exchange and its supporting services from a
// configuration. Both binaries start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/config"
	"github.com/xtrntr/kdex/internal/db"
	"github.com/xtrntr/kdex/internal/events"
	"github.com/xtrntr/kdex/internal/exchange"
	"github.com/xtrntr/kdex/internal/models"
	"github.com/xtrntr/kdex/internal/store"
	"github.com/xtrntr/kdex/internal/token"
	"github.com/xtrntr/kdex/migrations"
)

const busSize = 4096

// ErrJournalAhead is returned by New when the journal already holds sequence
// numbers the restored exchange would reuse, which happens when the process
// stopped after journaling events but before snapshotting them.
var ErrJournalAhead = errors.New("journal is ahead of the snapshot")

// App owns the running exchange
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    *store.Store
	Tokens   *token.Registry
	Exchange *exchange.Exchange
	Bus      *events.Bus
	// DB is nil when no database is configured
	DB *db.DB

	kafka *events.KafkaSink
}

// New opens the store, restores the last snapshot if there is one and
// connects the configured event sinks. The bus is running when New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.Store, err = store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	snap, restored, err := a.Store.Load()
	if err != nil {
		return nil, err
	}

	a.Tokens, err = Registry(cfg, snap.Tokens)
	if err != nil {
		return nil, err
	}

	a.Bus = events.NewBus(busSize, logger.Named("bus"))
	a.Exchange, err = exchange.New(exchange.Config{
		Address:           cfg.ExchangeAddress(),
		FeeAccount:        cfg.FeeAccountAddress(),
		FeePercent:        cfg.Exchange.FeePercent,
		AllowPartialFills: cfg.Exchange.AllowPartialFills,
	}, a.Tokens, exchange.WithEmitter(a.Bus), exchange.WithLogger(logger.Named("exchange")))
	if err != nil {
		return nil, err
	}
	if restored {
		if err := a.Exchange.Restore(snap.Exchange); err != nil {
			return nil, err
		}
		logger.Info("state restored",
			zap.Time("saved_at", snap.SavedAt),
			zap.Int("orders", len(snap.Exchange.Orders)),
			zap.Int("balances", len(snap.Exchange.Balances)),
			zap.Uint64("next_seq", snap.Exchange.NextSeq))
	}

	if cfg.Database.URL != "" {
		if err := a.openJournal(ctx, snap.Exchange.NextSeq); err != nil {
			return nil, err
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafka = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.Bus.Subscribe("kafka", a.kafka)
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	go a.Bus.Run(context.Background())
	return a, nil
}

func (a *App) openJournal(ctx context.Context, nextSeq uint64) error {
	database, err := db.NewDB(ctx, a.Config.Database.URL)
	if err != nil {
		return err
	}
	a.DB = database
	if err := database.Migrate(ctx, migrations.Schema); err != nil {
		return err
	}
	last, ok, err := database.LastSeq(ctx)
	if err != nil {
		return err
	}
	if err := checkJournal(last, ok, nextSeq); err != nil {
		return err
	}
	a.Bus.Subscribe("journal", database)
	return nil
}

// checkJournal refuses a journal whose last seq is at or past nextSeq. The
// journal skips sequence numbers it already holds, so new events would be
// silently dropped.
func checkJournal(last uint64, ok bool, nextSeq uint64) error {
	if ok && last >= nextSeq {
		return fmt.Errorf("%w: journal holds seq %d, snapshot resumes at %d; "+
			"restore a newer snapshot or remove journal rows from seq %d on",
			ErrJournalAhead, last, nextSeq, nextSeq)
	}
	return nil
}

// Registry builds the token registry. Tokens found in saved state are
// restored as saved; configured tokens without saved state are created
// with their full supply minted to the treasury.
func Registry(cfg config.Config, saved []token.State) (*token.Registry, error) {
	reg := token.NewRegistry()
	for _, st := range saved {
		if err := reg.Register(token.RestoreLedger(st)); err != nil {
			return nil, err
		}
	}
	treasury := cfg.TreasuryAddress()
	for i, t := range cfg.Tokens {
		info := token.Info{
			Address:  common.HexToAddress(t.Address),
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		}
		if _, err := reg.Ledger(info.Address); err == nil {
			continue
		}
		supply, err := models.ParseUnits(t.Supply, t.Decimals)
		if err != nil {
			return nil, &config.Error{Field: fmt.Sprintf("tokens[%d].supply", i), Err: err}
		}
		if err := reg.Register(token.NewLedger(info, treasury, supply)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Snapshot persists the exchange and every token in one consistent cut
func (a *App) Snapshot() error {
	return a.Exchange.Checkpoint(func(st exchange.State) error {
		ledgers := a.Tokens.Ledgers()
		tokens := make([]token.State, 0, len(ledgers))
		for _, l := range ledgers {
			tokens = append(tokens, l.Snapshot())
		}
		return a.Store.Save(st, tokens, time.Now())
	})
}

// RunSnapshots saves a snapshot every interval until ctx is done
func (a *App) RunSnapshots(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Snapshot(); err != nil {
				a.Logger.Error("snapshot failed", zap.Error(err))
			}
		}
	}
}

// Close drains the event bus, writes a final snapshot and releases every
// resource. The exchange must no longer be in use.
func (a *App) Close() error {
	a.Bus.Close()
	err := a.Snapshot()
	if err == nil {
		a.Logger.Info("final snapshot saved", zap.Uint64("next_seq", a.Exchange.Snapshot().NextSeq))
	}
	return errors.Join(err, a.closeResources())
}

func (a *App) closeResources() error {
	var errs []error
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
