package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestCatalogWatcherInvalidatesOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(validCatalog), 0644))

	cat, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "2025-07-01", cat.RulesetVersion)

	watcher, err := WatchCatalog(path, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Close()

	updated := `{"ruleset_version": "2025-09-01", "rules": []}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cat, err = Load(path)
		require.NoError(t, err)
		if cat.RulesetVersion == "2025-09-01" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("catalog cache was not invalidated, still at %s", cat.RulesetVersion)
}

func TestCatalogWatcherPicksUpLastWriteInBurst(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(validCatalog), 0644))

	_, err := Load(path)
	require.NoError(t, err)

	watcher, err := WatchCatalog(path, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Close()

	// Two writes inside one debounce window, with a Load in between that
	// re-caches the intermediate content. The final write must still win.
	require.NoError(t, os.WriteFile(path, []byte(`{"ruleset_version": "2025-09-01", "rules": []}`), 0644))
	time.Sleep(100 * time.Millisecond)
	_, err = Load(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{"ruleset_version": "2025-10-01", "rules": []}`), 0644))

	var cat *Catalog
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cat, err = Load(path)
		require.NoError(t, err)
		if cat.RulesetVersion == "2025-10-01" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("catalog cache kept pre-burst content, still at %s", cat.RulesetVersion)
}
