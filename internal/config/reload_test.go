// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.yaml")
	writeConfig(t, path, "listen: \":7070\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	assert.Equal(t, ":7070", holder.Get().Listen)

	writeConfig(t, path, "listen: \":7071\"\n")
	require.NoError(t, holder.Reload(context.Background()))
	assert.Equal(t, ":7071", holder.Get().Listen)
}

func TestHolderReloadKeepsOldConfigOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.yaml")
	writeConfig(t, path, "listen: \":7070\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)

	// Invalid: playlist TTL above the live-edge bound fails validation.
	writeConfig(t, path, "cache:\n  playlistTTL: 20s\n")
	require.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, ":7070", holder.Get().Listen)
	assert.Equal(t, 10*time.Second, holder.Get().Cache.PlaylistTTL)
}

func TestHolderNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.yaml")
	writeConfig(t, path, "listen: \":7070\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	ch := make(chan Config, 1)
	holder.RegisterListener(ch)

	writeConfig(t, path, "listen: \":7072\"\n")
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, ":7072", got.Listen)
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}
}

func TestHolderWatcherPicksUpFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.yaml")
	writeConfig(t, path, "listen: \":7070\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, holder.StartWatcher(ctx))
	defer holder.Stop()

	writeConfig(t, path, "listen: \":7073\"\n")

	// Debounce is 500ms; poll with headroom.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if holder.Get().Listen == ":7073" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("watcher did not apply file change, listen = %s", holder.Get().Listen)
}

func TestWatcherDisabledWithoutPath(t *testing.T) {
	holder := NewHolder(Default(), NewLoader("", "test"), "")
	require.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}
