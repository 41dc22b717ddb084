package ratelimit

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogSuppressesWithinInterval(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	l := New(50 * time.Millisecond)
	l.Log(log, "no fix")
	l.Log(log, "no fix")

	count := bytes.Count(buf.Bytes(), []byte("no fix"))
	assert.Equal(t, 1, count)
}

func TestLogAllowsAfterInterval(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	l := New(10 * time.Millisecond)
	l.Log(log, "no fix")
	time.Sleep(20 * time.Millisecond)
	l.Log(log, "no fix")

	count := bytes.Count(buf.Bytes(), []byte("no fix"))
	assert.Equal(t, 2, count)
}
