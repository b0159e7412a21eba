package operations

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/kebairia/contentbackup/internal/logger"
)

const (
	supervisorName         = "cbk"
	metricsShutdownTimeout = 10 * time.Second
)

// Run supervises the persist worker and, when metrics.address is set, the
// metrics endpoint until ctx is done. The worker finishes with a forced
// backup; Run waits up to backup.shutdown_timeout for it.
func (o *Operator) Run(ctx context.Context) error {
	sup := suture.New(supervisorName, suture.Spec{
		EventHook:        eventHook(o.log.With("component", "supervisor")),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          o.cfg.Backup.ShutdownTimeout,
	})
	sup.Add(o.manager)

	if addr := o.cfg.Metrics.Address; addr != "" {
		server := &http.Server{
			Addr:              addr,
			Handler:           o.router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		sup.Add(NewHTTPServerService("metrics", server, metricsShutdownTimeout))
		o.log.Info("metrics endpoint enabled", "address", addr)
	}

	o.log.Info("backup service started",
		"directory", o.manager.Dir(),
		"rules", len(o.manager.Rules()),
		"persist_interval", o.cfg.Backup.PersistInterval.String(),
	)
	err := sup.Serve(ctx)

	if unstopped, reportErr := sup.UnstoppedServiceReport(); reportErr == nil {
		for _, u := range unstopped {
			o.log.Error("service did not stop in time", "service", u.Name)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	o.log.Info("backup service stopped")
	return nil
}

// eventHook logs supervisor events through log.
func eventHook(log logger.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := e.Map()
		kv := make([]any, 0, 2*len(fields))
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			kv = append(kv, k, fields[k])
		}

		switch e.(type) {
		case suture.EventServicePanic, suture.EventStopTimeout:
			log.Error(e.String(), kv...)
		case suture.EventServiceTerminate, suture.EventBackoff:
			log.Warn(e.String(), kv...)
		default:
			log.Info(e.String(), kv...)
		}
	}
}
