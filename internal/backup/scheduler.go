package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Snapshotter interface {
	Snapshot(ctx context.Context) (string, error)
}

// Scheduler takes periodic snapshots on a cron schedule such as "@daily" or
// "0 3 * * *".
type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger
}

func NewScheduler(target Snapshotter, schedule string, log logrus.FieldLogger) (*Scheduler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser)),
		log:  log.WithField("module", "backup"),
	}

	_, err := s.cron.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("scheduled backup panicked: %v", r)
			}
		}()
		if _, err := target.Snapshot(context.Background()); err != nil {
			s.log.WithError(err).Error("scheduled backup failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Next reports when the next snapshot is due. It is zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Close stops scheduling and waits for a running snapshot to finish.
func (s *Scheduler) Close() error {
	<-s.cron.Stop().Done()
	return nil
}
