package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/alromeros/meteoserver/internal/digest"
	"github.com/sirupsen/logrus"
)

const (
	respTimeout = "Timeout.\n"
	respTooLong = "Request is too long.\n"
	respInvalid = "Request is not valid.\n"
)

// runWorker is one member of the fixed-size worker pool. It loops,
// popping connections off the queue, until PopBlocking reports shutdown.
func (s *Server) runWorker(id int) {
	defer s.workers.Done()
	log := s.log.WithField("component", "worker").WithField("worker_id", id)
	log.Debug("worker started")

	for {
		conn, ok := s.queue.PopBlocking()
		if !ok {
			log.Debug("worker exiting: queue closed")
			return
		}
		s.metrics.queueDepth.Set(float64(s.queue.Len()))
		s.handleConnection(conn, log)
	}
}

// handleConnection implements spec §4.4 end to end: one read, one parse,
// one cache consult, one reply, then close. Every error path is soft —
// nothing here propagates past this function.
func (s *Server) handleConnection(conn net.Conn, log *logrus.Entry) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(ConnTimeoutSeconds * time.Second)); err != nil {
		log.WithError(err).Debug("failed to set read deadline")
		return
	}

	buf := make([]byte, MaxRequestSize+1)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.reject(conn, OutcomeTimeout, respTimeout, log)
			return
		}
		// Other error or zero-length read: close and move on, silently.
		return
	}
	if n == 0 {
		return
	}
	if n > MaxRequestSize {
		drain(conn)
		s.reject(conn, OutcomeTooLong, respTooLong, log)
		return
	}

	msg, delayMs, ok := parseRequest(buf[:n])
	if !ok {
		s.reject(conn, OutcomeInvalid, respInvalid, log)
		return
	}

	digestHex, ok := s.cache.Get(msg)
	if !ok {
		digestHex = digest.Hex([]byte(msg))
		s.sleepForMiss(delayMs)
		s.cache.Put(msg, digestHex)
	}

	s.reply(conn, digestHex+"\n", log)
}

// parseRequest tokenizes "get <msg> <delay_ms>" per spec §3/§4.4: exactly
// three whitespace-separated tokens, literal "get", and an unsigned
// decimal delay bounded by MaxDelayMillis (the spec's Open Question,
// resolved here rather than left unbounded).
func parseRequest(raw []byte) (msg string, delayMs uint64, ok bool) {
	parts := strings.Fields(string(raw))
	if len(parts) != 3 || parts[0] != "get" {
		return "", 0, false
	}
	delayMs, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil || delayMs > MaxDelayMillis {
		return "", 0, false
	}
	return parts[1], delayMs, true
}

// sleepForMiss simulates the miss-path compute cost outside the cache
// lock. The semaphore caps how many requests may be sleeping at once —
// an enrichment, not a correctness requirement: the queue's backlog
// already bounds how much work can be pending, so this only guards
// against an unbounded fan-out of concurrent sleepers if that one-worker-
// per-connection rule ever changed.
func (s *Server) sleepForMiss(delayMs uint64) {
	if s.sem != nil {
		_ = s.sem.Acquire(context.Background(), 1)
		defer s.sem.Release(1)
	}
	if delayMs > 0 {
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}
}

func (s *Server) reject(conn net.Conn, outcome, message string, log *logrus.Entry) {
	s.metrics.requestOutcome.WithLabelValues(outcome).Inc()
	log.WithField("outcome", outcome).Debug("rejecting request")
	s.reply(conn, message, log)
}

func (s *Server) reply(conn net.Conn, message string, log *logrus.Entry) {
	if err := conn.SetWriteDeadline(time.Now().Add(ConnTimeoutSeconds * time.Second)); err != nil {
		log.WithError(err).Debug("failed to set write deadline")
		return
	}
	if _, err := conn.Write([]byte(message)); err != nil {
		log.WithError(err).Debug("send failed")
	}
}

// drain discards whatever remains of an oversized request so the client
// isn't left writing into a socket nobody will ever read again.
func drain(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(ConnTimeoutSeconds * time.Second))
	_, _ = io.Copy(io.Discard, conn)
}
