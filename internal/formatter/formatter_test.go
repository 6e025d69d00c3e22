package formatter

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestNewExec_RequiresCommand(t *testing.T) {
	_, err := NewExec(ExecConfig{Command: "  "})
	assert.Error(t, err)
}

func TestNewExec_Defaults(t *testing.T) {
	e, err := NewExec(ExecConfig{Command: "cat"})
	require.NoError(t, err)
	assert.Equal(t, DefaultExecTimeout, e.config.Timeout)
	assert.Equal(t, DefaultMaxOutputBytes, e.config.MaxOutputBytes)
}

func TestExec_Identity(t *testing.T) {
	e, err := NewExec(ExecConfig{Command: "pretty-dql", Args: []string{"--indent", "2"}})
	require.NoError(t, err)
	assert.Equal(t, "pretty-dql --indent 2", e.Identity())
	assert.Equal(t, "pretty-dql --indent 2", IdentityOf(e, "x"))
	assert.Equal(t, "x", IdentityOf(Func(nil), "x"))
}

func TestExec_Format(t *testing.T) {
	requireBinary(t, "tr")
	e, err := NewExec(ExecConfig{Command: "tr", Args: []string{"a-z", "A-Z"}})
	require.NoError(t, err)

	out, err := e.Format(context.Background(), "select 1 from t\n")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 FROM T", out)
}

func TestExec_NonZeroExit(t *testing.T) {
	requireBinary(t, "sh")
	e, err := NewExec(ExecConfig{Command: "sh", Args: []string{"-c", "echo 'syntax error at 1:3' >&2; exit 2"}})
	require.NoError(t, err)

	_, err = e.Format(context.Background(), "SELEC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error at 1:3")
}

func TestExec_EmptyOutput(t *testing.T) {
	requireBinary(t, "true")
	e, err := NewExec(ExecConfig{Command: "true"})
	require.NoError(t, err)

	_, err = e.Format(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestExec_Timeout(t *testing.T) {
	requireBinary(t, "sleep")
	e, err := NewExec(ExecConfig{Command: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = e.Format(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExec_OutputCap(t *testing.T) {
	requireBinary(t, "cat")
	e, err := NewExec(ExecConfig{Command: "cat", MaxOutputBytes: 4})
	require.NoError(t, err)

	_, err = e.Format(context.Background(), "SELECT 1 FROM t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}

func TestExec_Env(t *testing.T) {
	requireBinary(t, "sh")
	e, err := NewExec(ExecConfig{Command: "sh", Args: []string{"-c", "printf %s \"$DQL_STYLE\""}, Env: []string{"DQL_STYLE=compact"}})
	require.NoError(t, err)

	out, err := e.Format(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "compact", out)
}

func TestLimitedWriter(t *testing.T) {
	var sink []byte
	w := &limitedWriter{w: writerFunc(func(p []byte) (int, error) {
		sink = append(sink, p...)
		return len(p), nil
	}), max: 5}

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, w.truncated)

	n, err = w.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, w.truncated)
	assert.Equal(t, "abcde", string(sink))
	assert.Equal(t, 2, w.discarded)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// memCache is an in-memory Cache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	getErr  error
}

func (m *memCache) Get(_ context.Context, identity, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.entries[identity+"/"+key]
	return v, ok, nil
}

func (m *memCache) Put(_ context.Context, identity, key, formatted string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	m.entries[identity+"/"+key] = formatted
	return nil
}

func TestCached(t *testing.T) {
	calls := 0
	inner := Func(func(_ context.Context, text string) (string, error) {
		calls++
		if text == "bad" {
			return "", errors.New("parse error")
		}
		return "<" + text + ">", nil
	})
	cache := &memCache{}
	c := NewCached(inner, cache, "upper")
	assert.Equal(t, "upper", c.Identity())

	ctx := context.Background()
	out, err := c.Format(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "<a>", out)

	out, err = c.Format(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "<a>", out)
	assert.Equal(t, 1, calls)

	_, err = c.Format(ctx, "bad")
	require.Error(t, err)
	_, err = c.Format(ctx, "bad")
	require.Error(t, err)
	assert.Equal(t, 3, calls, "failures are not cached")
}

func TestCached_IdentitySeparatesEntries(t *testing.T) {
	cache := &memCache{}
	ctx := context.Background()
	a := NewCached(Func(func(context.Context, string) (string, error) { return "A", nil }), cache, "a")
	b := NewCached(Func(func(context.Context, string) (string, error) { return "B", nil }), cache, "b")

	out, err := a.Format(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "A", out)
	out, err = b.Format(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "B", out)
}

func TestCached_LookupErrorFallsThrough(t *testing.T) {
	cache := &memCache{getErr: errors.New("disk gone")}
	c := NewCached(Func(func(_ context.Context, s string) (string, error) { return s + "!", nil }), cache, "")
	assert.Equal(t, "anonymous", c.Identity())

	out, err := c.Format(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x!", out)
}

func TestKey(t *testing.T) {
	assert.Len(t, Key("x"), 64)
	assert.Equal(t, Key("x"), Key("x"))
	assert.NotEqual(t, Key("x"), Key("y"))
}
