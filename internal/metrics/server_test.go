package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recorderResponseWriter is a minimal http.ResponseWriter for exercising a
// handler directly, without binding a real listener.
type recorderResponseWriter struct {
	header http.Header
	status int
}

func newRecorderResponseWriter() *recorderResponseWriter {
	return &recorderResponseWriter{header: make(http.Header)}
}

func (r *recorderResponseWriter) Header() http.Header         { return r.header }
func (r *recorderResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (r *recorderResponseWriter) WriteHeader(status int)      { r.status = status }

func TestHealthzUnhealthyBeforeFirstTick(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", nil)

	rec := newRecorderResponseWriter()
	s.handleHealthz(rec, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.status)
}

func TestHealthzHealthyAfterTick(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", nil)
	s.Tick()

	rec := newRecorderResponseWriter()
	s.handleHealthz(rec, nil)
	assert.Equal(t, http.StatusOK, rec.status)
}

func TestHealthzStaleAfterTimeout(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", nil)
	s.lastTick.Store(time.Now().Add(-2 * healthStaleAfter).UnixNano())

	rec := newRecorderResponseWriter()
	s.handleHealthz(rec, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.status)
}
