package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

// collector records every batch a watcher delivers.
type collector struct {
	mu      sync.Mutex
	batches [][]ChangeEvent
}

func (c *collector) handle(events []ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, events)
	return nil
}

func (c *collector) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, batch := range c.batches {
		for _, e := range batch {
			out = append(out, e.Path)
		}
	}
	return out
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func startWatcher(t *testing.T, delay time.Duration, files ...string) (*FileWatcher, *collector, []string) {
	t.Helper()
	fw, err := NewFileWatcher(delay, nil)
	require.NoError(t, err)

	var abs []string
	for _, f := range files {
		p, err := fw.AddFile(f)
		require.NoError(t, err)
		abs = append(abs, p)
	}

	c := &collector{}
	fw.AddHandler(c.handle)
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(func() { _ = fw.Stop() })
	return fw, c, abs
}

func TestWatcherReportsRegisteredFiles(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "template.md")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(template, []byte("Hello"), 0o644))

	_, c, abs := startWatcher(t, 20*time.Millisecond, template)

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(template, []byte("Hello {{name}}"), 0o644))

	require.Eventually(t, func() bool { return c.count() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, abs, uniq(c.paths()))
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(data, []byte("{}"), 0o644))

	_, c, _ := startWatcher(t, 200*time.Millisecond, data)

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(data, []byte(`{"n":`+string(rune('0'+i))+`}`), 0o644))
	}

	require.Eventually(t, func() bool { return c.count() > 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, c.count(), "a burst of writes is delivered as one batch")
	assert.Len(t, c.paths(), 1)
}

func TestWatcherSeesAtomicSave(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.cto")
	require.NoError(t, os.WriteFile(model, []byte("namespace a"), 0o644))

	_, c, abs := startWatcher(t, 20*time.Millisecond, model)

	tmp := filepath.Join(dir, ".model.cto.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("namespace b"), 0o644))
	require.NoError(t, os.Rename(tmp, model))

	require.Eventually(t, func() bool { return c.count() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, c.paths(), abs[0])
}

func TestAddFileValidation(t *testing.T) {
	fw, err := NewFileWatcher(time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	_, err = fw.AddFile("../../etc/passwd")
	assert.Error(t, err)

	_, err = fw.AddFile(filepath.Join(t.TempDir(), "missing-dir", "data.json"))
	assert.Error(t, err, "directory must exist")

	dir := t.TempDir()
	a, err := fw.AddFile(filepath.Join(dir, "a.md"))
	require.NoError(t, err)
	b, err := fw.AddFile(filepath.Join(dir, "b.md"))
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, fw.Files())
}

func TestStartTwiceAndStop(t *testing.T) {
	fw, err := NewFileWatcher(time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, fw.Start(context.Background()))
	assert.Error(t, fw.Start(context.Background()))
	require.NoError(t, fw.Stop())
	goleak.VerifyNone(t)
}

func uniq(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
