package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"pt-watch/internal/config"
	"pt-watch/internal/store"

	"github.com/sirupsen/logrus"
)

// ScanRunNowChannel carries manual scan triggers between instances.
const ScanRunNowChannel = "scan:run_now"

const (
	initialScanDelay = 10 * time.Second
	minScanInterval  = 30 * time.Second
)

// Service schedules the periodic scans and listens for manual triggers.
type Service struct {
	scanner         *Scanner
	settingsManager *config.SystemSettingsManager
	store           store.Store

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
	sub    store.Subscription
}

func NewService(scanner *Scanner, settingsManager *config.SystemSettingsManager, s store.Store) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		scanner:         scanner,
		settingsManager: settingsManager,
		store:           s,
		ctx:             ctx,
		cancel:          cancel,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the scheduler goroutine. The first scan runs after a short
// delay so startup does not block on slow trackers.
func (s *Service) Start() {
	sub, err := s.store.Subscribe(ScanRunNowChannel)
	if err != nil {
		logrus.WithError(err).Warn("cannot subscribe to scan trigger channel, manual triggers disabled on this instance")
	} else {
		s.sub = sub
	}

	s.wg.Add(1)
	go s.run()
	logrus.Info("Scan scheduler started")
}

// Stop shuts the scheduler down, waiting up to the context deadline.
func (s *Service) Stop(ctx context.Context) {
	close(s.stopCh)
	s.cancel()
	if s.sub != nil {
		s.sub.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logrus.Info("Scan scheduler stopped")
	case <-ctx.Done():
		logrus.Warn("Scan scheduler stop timed out")
	}
}

// TriggerScan requests an immediate scan. The request travels through the
// store so any instance's scheduler picks it up.
func (s *Service) TriggerScan() error {
	return s.store.Publish(ScanRunNowChannel, []byte("run"))
}

func (s *Service) run() {
	defer s.wg.Done()

	var triggers <-chan *store.Message
	if s.sub != nil {
		triggers = s.sub.Channel()
	}

	timer := time.NewTimer(initialScanDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		case msg, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			_ = msg
			logrus.Info("manual scan trigger received")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		s.scanOnce()
		timer.Reset(s.interval())
	}
}

func (s *Service) scanOnce() {
	status, err := s.scanner.ScanAll(s.ctx)
	if err != nil {
		if errors.Is(err, ErrScanRunning) {
			logrus.Info("scan already running, skipping scheduled run")
			return
		}
		logrus.WithError(err).Warn("scheduled scan failed")
		return
	}
	logrus.Debugf("scheduled scan %s covered %d sites", status.RunID, status.SiteCount)
}

// interval re-reads the settings so edits take effect on the next cycle.
func (s *Service) interval() time.Duration {
	interval := time.Duration(s.settingsManager.GetSettings().ScanIntervalSeconds) * time.Second
	if interval < minScanInterval {
		interval = minScanInterval
	}
	return interval
}
