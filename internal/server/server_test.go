package server

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alromeros/meteoserver/internal/signalstate"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort asks the OS for an unused TCP port, the same findFreePort
// trick _examples/HackStrix-steel-infra-assessment/orchestrator/pool.go
// uses to avoid hardcoding ports across parallel tests.
func freePort(t *testing.T) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T, settings Settings) *Server {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)

	srv, err := New(settings, log)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	t.Cleanup(func() {
		srv.Signals().Clear(signalstate.Enabled)
		srv.Signals().Set(signalstate.Terminating)
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", settings.Port), 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "server never started accepting")

	return srv
}

func request(t *testing.T, port int, msg string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(msg))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line
}

// Scenario 1.
func TestEndToEndHelloDigest(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	resp := request(t, port, "get hello 0\n")
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592\n", resp)
}

// Scenario 2: a cache hit must not re-incur the delay.
func TestEndToEndCacheHitSkipsDelay(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	resp := request(t, port, "get test1 150\n")
	assert.Equal(t, "5a105e8b9d40e1329780d62ea2265d8a\n", resp)

	start := time.Now()
	resp = request(t, port, "get test1 150\n")
	elapsed := time.Since(start)
	assert.Equal(t, "5a105e8b9d40e1329780d62ea2265d8a\n", resp)
	assert.Less(t, elapsed, 100*time.Millisecond, "cache hit must not sleep")
}

// Scenario 3: with cache size 2, a third distinct key evicts the LRU
// entry, observable as a recompute on the next request for it.
func TestEndToEndEvictionForcesRecompute(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	request(t, port, "get test2 0\n")
	request(t, port, "get test3 0\n")
	request(t, port, "get test4 0\n") // evicts test2

	start := time.Now()
	resp := request(t, port, "get test2 100\n")
	elapsed := time.Since(start)
	assert.Contains(t, resp, "\n")
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond, "recompute after eviction must pay the delay again")
}

// Scenario 4.
func TestEndToEndOversizedRequest(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	blob := make([]byte, 5000)
	for i := range blob {
		blob[i] = 'a'
	}
	resp := request(t, port, string(blob))
	assert.Equal(t, respTooLong, resp)
}

// Scenario 5.
func TestEndToEndTimeout(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, respTimeout, line)
}

// Scenario 6.
func TestEndToEndMalformedRequest(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	resp := request(t, port, "put foo 0\n")
	assert.Equal(t, respInvalid, resp)
}

// Boundary: empty msg after two spaces is invalid.
func TestEndToEndEmptyMsgIsInvalid(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	resp := request(t, port, "get  5\n")
	assert.Equal(t, respInvalid, resp)
}

// Boundary: a request exactly at MaxRequestSize is accepted.
func TestEndToEndExactlyAtSizeLimitIsAccepted(t *testing.T) {
	port := freePort(t)
	startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	padding := MaxRequestSize - len("get  0\n")
	msg := make([]byte, padding)
	for i := range msg {
		msg[i] = 'x'
	}
	req := "get " + string(msg) + " 0\n"
	require.Len(t, req, MaxRequestSize)

	resp := request(t, port, req)
	assert.Len(t, resp, 33) // 32 hex chars + newline
}

// Scenario 7: a flush empties the cache, observable as a recompute.
func TestEndToEndFlushClearsCache(t *testing.T) {
	port := freePort(t)
	srv := startTestServer(t, Settings{Port: port, CacheSize: 2, ThreadCount: 2})

	request(t, port, "get test1 0\n")
	assert.Equal(t, 1, srv.cache.Len())

	// Tests trigger the flush by flipping the same bit SIGUSR1 would,
	// rather than signaling the test binary's own PID, to avoid racing
	// on delivery timing.
	srv.Signals().Set(signalstate.FlushRequested)

	require.Eventually(t, func() bool {
		return srv.cache.Len() == 0
	}, 3*time.Second, 10*time.Millisecond, "flush never cleared the cache")

	start := time.Now()
	request(t, port, "get test1 150\n")
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond, "post-flush request must recompute")
}

func TestStatusSnapshot(t *testing.T) {
	port := freePort(t)
	srv := startTestServer(t, Settings{Port: port, CacheSize: 3, ThreadCount: 4})

	request(t, port, "get a 0\n")
	st := srv.Status()
	assert.Equal(t, port, st.Port)
	assert.Equal(t, 3, st.CacheSize)
	assert.Equal(t, 1, st.CacheLen)
	assert.Equal(t, 4, st.ThreadCount)
	assert.Equal(t, "running", st.State)
}
