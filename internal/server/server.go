// Package server wires the digest cache, the handoff queue, the worker
// pool, and the signal-driven lifecycle into the acceptor described by
// spec §4.5. It is the component grounded most directly on
// _examples/HackStrix-steel-infra-assessment/orchestrator: a struct that
// owns a pool of workers and a queue, is constructed once via New, and
// is torn down by its own shutdown step, which Run enters once the
// caller's signal handler has flipped the termination bits — the same
// shape as that orchestrator's Pool/NewPool/Shutdown, applied to a
// fixed-size pool of goroutines instead of an auto-scaling pool of child
// processes.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/alromeros/meteoserver/internal/lrucache"
	"github.com/alromeros/meteoserver/internal/queue"
	"github.com/alromeros/meteoserver/internal/signalstate"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Server holds everything the acceptor and the worker pool share.
type Server struct {
	settings Settings
	log      *logrus.Logger
	cache    *lrucache.Cache
	queue    *queue.Queue
	signals  *signalstate.State
	metrics  *Metrics
	sem      *semaphore.Weighted

	listener net.Listener
	workers  sync.WaitGroup

	stateMu sync.Mutex
	state   LifecycleState
}

// New validates settings and wires up the cache, queue, and metrics. It
// does not open a socket or start workers — that happens in Run, so that
// constructing a Server for tests never touches the network.
func New(settings Settings, log *logrus.Logger) (*Server, error) {
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	if log == nil {
		log = logrus.New()
	}

	cache, err := lrucache.New(settings.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cache")
	}

	s := &Server{
		settings: settings,
		log:      log,
		cache:    cache,
		queue:    queue.New(),
		signals:  signalstate.New(),
		metrics:  newMetrics(),
		sem:      semaphore.NewWeighted(int64(2 * settings.ThreadCount)),
		state:    StateStarting,
	}

	cache.OnEvent(s.observeCacheEvent)
	return s, nil
}

func (s *Server) observeCacheEvent(event, key string) {
	s.metrics.cacheOccupancy.Set(float64(s.cache.Len()))
	switch event {
	case lrucache.EventHit:
		s.metrics.requestOutcome.WithLabelValues(OutcomeHit).Inc()
	case lrucache.EventMiss:
		s.metrics.requestOutcome.WithLabelValues(OutcomeMiss).Inc()
	}
	s.log.WithField("component", "cache").
		WithField("event", event).
		WithField("key", key).
		Debug("cache event")
}

// Run opens the listening socket, spawns the worker pool, and blocks in
// the acceptor's main loop until shutdown is requested. Signal
// (SIGUSR1/SIGTERM/SIGINT) handling is the caller's job — Signals()
// exposes the bitfield those handlers must flip.
func (s *Server) Run() error {
	ln, err := listen(s.settings.Port, s.settings.CacheSize)
	if err != nil {
		return errors.Wrap(err, "failed to start listener")
	}
	s.listener = ln
	defer s.listener.Close()

	s.log.WithField("component", "acceptor").
		WithField("port", s.settings.Port).
		WithField("cache_size", s.settings.CacheSize).
		WithField("threads", s.settings.ThreadCount).
		Info("listening")

	for i := 0; i < s.settings.ThreadCount; i++ {
		s.workers.Add(1)
		go s.runWorker(i)
	}

	s.setState(StateRunning)
	s.acceptLoop()
	return s.shutdown()
}

// Signals returns the process-wide bitfield a signal-relay goroutine
// should flip. SIGUSR1 -> Set(signalstate.FlushRequested);
// SIGTERM/SIGINT -> Clear(signalstate.Enabled); Set(signalstate.Terminating).
func (s *Server) Signals() *signalstate.State {
	return s.signals
}

// acceptLoop is spec §4.5's main loop: check for a pending flush, accept
// one connection (bounded by the listener's own accept deadline so the
// loop stays responsive to signals even with no traffic), push it onto
// the queue.
func (s *Server) acceptLoop() {
	log := s.log.WithField("component", "acceptor")

	for s.signals.Has(signalstate.Enabled) && !s.signals.Has(signalstate.Terminating) {
		if s.signals.TestAndClear(signalstate.FlushRequested) {
			s.setState(StateFlushing)
			s.cache.ClearAndReinit()
			s.metrics.cacheOccupancy.Set(0)
			log.Info("Done!")
			s.setState(StateRunning)
		}

		if tcl, ok := s.listener.(*net.TCPListener); ok {
			_ = tcl.SetDeadline(time.Now().Add(ConnTimeoutSeconds * time.Second))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.signals.Has(signalstate.Terminating) {
				return
			}
			log.WithError(err).Debug("accept failed")
			continue
		}

		s.metrics.queueDepth.Set(float64(s.queue.Len() + 1))
		s.queue.Push(conn)
	}
}

// shutdown implements spec §4.5's teardown: broadcast the queue so every
// blocked worker wakes, join them all, then print the cache's contents
// MRU-to-LRU. The snapshot is taken only after every worker has exited,
// an ordering this function preserves by joining before snapshotting, so
// no request can reorder the cache while it is being printed.
func (s *Server) shutdown() error {
	s.setState(StateTerminating)
	s.signals.Clear(signalstate.Enabled)
	s.signals.Set(signalstate.Terminating)

	s.queue.Close()
	s.workers.Wait()

	log := s.log.WithField("component", "acceptor")
	for _, entry := range s.cache.SnapshotAndDrain() {
		log.Infof("Request: '%s' with hash: '%s'", entry.Key, entry.Digest)
	}
	log.Info("Bye!")

	s.setState(StateStopped)
	return nil
}
