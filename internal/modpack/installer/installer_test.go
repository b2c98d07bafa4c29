package installer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"project-tachyon/internal/fetch"
	"project-tachyon/internal/instance"
	"project-tachyon/internal/invalidation"
	"project-tachyon/internal/modplatforms"
	"project-tachyon/internal/runtimepath"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/vtask"
)

type fakeVersionFetcher struct {
	manifest modplatforms.GameVersionManifest
}

func (f *fakeVersionFetcher) FetchVersion(ctx context.Context, versionID string) (modplatforms.GameVersionManifest, error) {
	return f.manifest, nil
}

type fakeLoaderFetcher struct{}

func (fakeLoaderFetcher) FetchLoaderProfile(ctx context.Context, gameVersion, loaderVersion string) (modplatforms.LoaderProfile, error) {
	return modplatforms.LoaderProfile{}, nil
}

func setupTestEnv(t *testing.T, versionFetcher modplatforms.VersionManifestFetcher) (*Installer, *instance.Store, *storage.Storage) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&storage.DownloadTask{},
		&storage.DownloadLocation{},
		&storage.DailyStat{},
		&storage.AppSetting{},
		&storage.SpeedTestHistory{},
		&storage.ManifestCacheEntry{},
		&storage.InstanceRecord{},
		&storage.JavaRuntimeRecord{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	store := &storage.Storage{DB: db}
	paths := runtimepath.New(t.TempDir())
	instances := instance.NewStore(store, paths)
	bus := invalidation.NewBus()
	tasks := vtask.NewManager(bus)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := fetch.NewFetcher(context.Background(), logger, store, bus)

	in := New(fetcher, store, instances, paths, tasks, versionFetcher, fakeLoaderFetcher{}, nil, nil)
	return in, instances, store
}

func TestInstallerRunsFullPipeline(t *testing.T) {
	content := []byte("hello minecraft asset bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	manifest := modplatforms.GameVersionManifest{
		ID: "1.20.1",
		Assets: map[string]modplatforms.AssetObject{
			"assetkey": {Hash: "7e03d5ada8d5c37b2b2a3277d21e27d486413936", Size: int64(len(content))}, // sha1 of content
		},
		Libraries: []modplatforms.LibraryArtifact{
			{Path: "com/example/lib-1.0.jar", URL: srv.URL, Size: int64(len(content))},
		},
		ClientJarURL: srv.URL,
	}
	versionFetcher := &fakeVersionFetcher{manifest: manifest}
	in, instances, _ := setupTestEnv(t, versionFetcher)

	// Point asset resolution at our test server instead of Mojang's CDN.
	origAssetURL := assetURLOverride
	assetURLOverride = func(hash string) string { return srv.URL }
	defer func() { assetURLOverride = origAssetURL }()

	inst, err := instances.Create("Test Instance", "1.20.1", "", "manual", instance.Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	req := Request{InstanceID: inst.ID, GameVersion: "1.20.1"}
	taskID, err := in.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if taskID == 0 {
		t.Fatal("expected a nonzero task id")
	}

	task, ok := in.tasks.Get(taskID)
	if !ok {
		t.Fatal("expected task to be registered")
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if task.Progress.Kind == vtask.Known && task.Progress.Fraction == 1 {
			break
		}
		if task.Progress.Kind == vtask.Failed {
			t.Fatalf("install failed: %v", task.Progress.Err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !(task.Progress.Kind == vtask.Known && task.Progress.Fraction == 1) {
		t.Fatalf("install did not complete in time, progress=%+v", task.Progress)
	}

	if _, err := os.Stat(inst.Paths.Root() + "/pack.info"); err != nil {
		t.Fatalf("expected pack.info to be written: %v", err)
	}
}

func TestSnapshotPackInfoWritesAtomically(t *testing.T) {
	root := t.TempDir()
	paths := runtimepath.New(root).Instance("abc")
	if err := paths.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	in := &Installer{}
	if err := in.snapshotPackInfo(paths); err != nil {
		t.Fatalf("snapshotPackInfo failed: %v", err)
	}
	data, err := os.ReadFile(paths.Root() + "/pack.info")
	if err != nil {
		t.Fatalf("expected pack.info file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty pack.info")
	}
}
