package rscript

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
)

// Monitor re-probes the runtime on a fixed interval so that installing or
// removing R packages is picked up without a restart.
type Monitor struct {
	s  *gocron.Scheduler
	rt *Runtime
}

// Monitor probes once right away and then every interval.
func (r *Runtime) Monitor(interval time.Duration) (*Monitor, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).Do(func() {
		r.Probe(context.Background())
	})
	if err != nil {
		return nil, err
	}
	s.StartAsync()
	r.log.Info("runtime monitor started", "interval", interval.String())
	return &Monitor{s: s, rt: r}, nil
}

func (m *Monitor) Stop() {
	if m != nil && m.s != nil {
		m.s.Stop()
	}
}
