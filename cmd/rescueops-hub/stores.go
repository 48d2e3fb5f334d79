package main

import (
	"context"
	"errors"
	"fmt"

	"rescueops-hub/internal/audit"
	"rescueops-hub/internal/config"
	"rescueops-hub/internal/correlate"
	"rescueops-hub/internal/logging"
	"rescueops-hub/internal/session"
	"rescueops-hub/internal/sink"
	"rescueops-hub/internal/sqlite"
	"rescueops-hub/internal/state"
)

// backends holds the durable outputs chosen by configuration.
type backends struct {
	writer  *sink.MultiWriter
	sqlite  *sqlite.Store
	claimer *session.RedisClaimer
}

// Writer returns the fan-out writer, or nil when nothing is configured.
func (b *backends) Writer() sink.Writer {
	if b.writer.Len() == 0 {
		return nil
	}
	return b.writer
}

// Claimer returns the shared session claimer, or nil for in-process ids.
func (b *backends) Claimer() session.Claimer {
	if b.claimer == nil {
		return nil
	}
	return b.claimer
}

func (b *backends) Close() error {
	var errs []error
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if b.claimer != nil {
		if err := b.claimer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackends sets up the writers based on flags and configuration. With
// printOnly every record goes to STDOUT and nothing is stored.
func openBackends(ctx context.Context, cfg *config.Config, printOnly bool) (*backends, error) {
	log := logging.FromContext(ctx)
	b := &backends{writer: sink.NewMultiWriter()}
	if printOnly {
		b.writer.Add(sink.NewStdoutWriter())
		log.Info("print-only mode: records are printed to STDOUT")
		return b, nil
	}
	st := cfg.Storage
	fail := func(err error) (*backends, error) {
		_ = b.Close()
		return nil, err
	}

	if st.SQLitePath != "" {
		db, err := sqlite.Open(st.SQLitePath, sqlite.DefaultConfig())
		if err != nil {
			return fail(err)
		}
		b.sqlite = db
		b.writer.Add(db)
		log.Info("sqlite store enabled", "path", st.SQLitePath)
	}
	if st.ExportDir != "" {
		fw, err := sink.NewFileWriter(st.ExportDir)
		if err != nil {
			return fail(err)
		}
		b.writer.Add(fw)
		log.Info("jsonl export enabled", "dir", st.ExportDir)
	}
	if st.GreptimeDB.Endpoint != "" {
		gw, err := sink.NewGreptimeDBWriter(st.GreptimeDB.Endpoint, st.GreptimeDB.Database, log)
		if err != nil {
			return fail(err)
		}
		b.writer.Add(gw)
		log.Info("greptimedb sink enabled", "endpoint", st.GreptimeDB.Endpoint, "database", st.GreptimeDB.Database)
	}
	if len(st.Kafka.Brokers) > 0 {
		b.writer.Add(sink.NewKafkaWriter(st.Kafka.Brokers, st.Kafka.Topic))
		log.Info("kafka sink enabled", "brokers", st.Kafka.Brokers, "topic", st.Kafka.Topic)
	}
	if st.Stdout {
		b.writer.Add(sink.NewStdoutWriter())
	}
	if b.writer.Len() == 0 {
		log.Warn("no storage configured: state is kept in memory only")
	}

	if addr := cfg.Sessions.RedisAddr; addr != "" {
		c, err := session.NewRedisClaimer(ctx, session.RedisConfig{
			Addr:     addr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
			TTL:      cfg.Sessions.ClaimTTL,
		})
		if err != nil {
			return fail(err)
		}
		b.claimer = c
		log.Info("shared session ids via redis", "addr", addr)
	}
	return b, nil
}

// rehydrate loads the stored collections into the in-memory stores and
// replays the audit trail through the correlator so pending assignments
// survive a restart.
func rehydrate(ctx context.Context, db *sqlite.Store, agents *state.Store, sessions *session.Registry, trail *audit.Trail, corr *correlate.Correlator) error {
	as, err := db.LoadAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range as {
		if err := agents.Upsert(a); err != nil {
			return fmt.Errorf("restore agent %s: %w", a.AgentID, err)
		}
	}
	ss, err := db.LoadSessions(ctx)
	if err != nil {
		return err
	}
	sessions.Restore(ss)
	evs, err := db.LoadAudit(ctx)
	if err != nil {
		return err
	}
	trail.Restore(evs)
	if corr != nil {
		ordered, err := trail.Query(ctx, audit.Filter{})
		if err != nil {
			return err
		}
		for _, ev := range ordered {
			corr.Observe(ev)
		}
	}
	return nil
}
