package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"project-tachyon/internal/archive"
	"project-tachyon/internal/instance"
	"project-tachyon/internal/invalidation"
	"project-tachyon/internal/runtimepath"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/vtask"
)

func writeTestZip(t *testing.T, dest string, files map[string]string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := archive.WriteZip(dest, root, archive.WriteOptions{}); err != nil {
		t.Fatalf("WriteZip failed: %v", err)
	}
}

func setupTestImporter(t *testing.T) *Importer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&storage.InstanceRecord{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	paths := runtimepath.New(t.TempDir())
	instances := instance.NewStore(&storage.Storage{DB: db}, paths)
	bus := invalidation.NewBus()
	tasks := vtask.NewManager(bus)
	return New(instances, tasks, bus)
}

func TestScanCurseForgeArchive(t *testing.T) {
	im := setupTestImporter(t)
	archivePath := filepath.Join(t.TempDir(), "pack.zip")
	writeTestZip(t, archivePath, map[string]string{
		"manifest.json": `{
			"minecraft": {"version": "1.20.1", "modLoaders": [{"id": "forge-47.2.0", "primary": true}]},
			"name": "Test Pack",
			"overrides": "overrides",
			"files": [{"projectID": 1, "fileID": 2, "required": true}]
		}`,
		"overrides/config/test.cfg": "hello",
	})

	if err := im.Scan(context.Background(), CurseForgeArchive, archivePath); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	status := im.Status()
	if status.Kind != SingleResult {
		t.Fatalf("expected SingleResult, got %v", status.Kind)
	}
	c := status.Candidates[0]
	if !c.Valid || c.GameVersion != "1.20.1" || c.ModLoader != "forge" || c.ModLoaderVersion != "47.2.0" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
	if len(c.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(c.Files))
	}
}

func TestScanCurseForgeArchiveMissingManifest(t *testing.T) {
	im := setupTestImporter(t)
	archivePath := filepath.Join(t.TempDir(), "bad.zip")
	writeTestZip(t, archivePath, map[string]string{"README.txt": "no manifest here"})

	if err := im.Scan(context.Background(), CurseForgeArchive, archivePath); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	status := im.Status()
	if status.Kind != SingleResult || status.Candidates[0].Valid {
		t.Fatalf("expected a single invalid candidate, got %+v", status)
	}
	if status.Candidates[0].Reason == "" {
		t.Fatal("expected a non-empty invalid reason")
	}
}

func TestScanModrinthPack(t *testing.T) {
	im := setupTestImporter(t)
	packPath := filepath.Join(t.TempDir(), "pack.mrpack")
	writeTestZip(t, packPath, map[string]string{
		"modrinth.index.json": `{
			"name": "Fabric Pack",
			"dependencies": {"minecraft": "1.20.1", "fabric-loader": "0.15.0"},
			"files": [{"path": "mods/a.jar", "hashes": {"sha512": "abc"}, "downloads": ["https://example.com/a.jar"], "fileSize": 100}]
		}`,
	})

	if err := im.Scan(context.Background(), ModrinthPack, packPath); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	status := im.Status()
	c := status.Candidates[0]
	if !c.Valid || c.ModLoader != "fabric-loader" || len(c.ModrinthFiles) != 1 {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestScanLegacyGDLauncherDirectory(t *testing.T) {
	im := setupTestImporter(t)
	root := t.TempDir()

	validDir := filepath.Join(root, "MyPack")
	os.MkdirAll(validDir, 0755)
	os.WriteFile(filepath.Join(validDir, "config.json"), []byte(`{"loader":{"loaderType":"forge","mcVersion":"1.16.5","fileId":1,"projectId":2}}`), 0644)

	brokenDir := filepath.Join(root, "Broken")
	os.MkdirAll(brokenDir, 0755)

	if err := im.Scan(context.Background(), LegacyGDLauncher, root); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	status := im.Status()
	if status.Kind != MultiResult {
		t.Fatalf("expected MultiResult, got %v with %d candidates", status.Kind, len(status.Candidates))
	}
	var sawValid, sawInvalid bool
	for _, c := range status.Candidates {
		if c.Valid {
			sawValid = true
		} else {
			sawInvalid = true
		}
	}
	if !sawValid || !sawInvalid {
		t.Fatalf("expected both a valid and invalid candidate, got %+v", status.Candidates)
	}
}

func TestScanPrismDirectory(t *testing.T) {
	im := setupTestImporter(t)
	root := t.TempDir()
	instDir := filepath.Join(root, "FabricPack")
	os.MkdirAll(instDir, 0755)
	os.WriteFile(filepath.Join(instDir, "instance.cfg"), []byte("name=FabricPack\niconKey=default\n"), 0644)
	os.WriteFile(filepath.Join(instDir, "mmc-pack.json"), []byte(`{"components":[{"uid":"net.minecraft","version":"1.20.1"},{"uid":"net.fabricmc.fabric-loader","version":"0.15.0"}]}`), 0644)

	if err := im.Scan(context.Background(), Prism, root); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	status := im.Status()
	if status.Kind != SingleResult {
		t.Fatalf("expected SingleResult, got %v", status.Kind)
	}
	c := status.Candidates[0]
	if c.Name != "FabricPack" || c.GameVersion != "1.20.1" || c.ModLoader != "fabric" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestBeginImportCreatesInstanceAndTask(t *testing.T) {
	im := setupTestImporter(t)
	archivePath := filepath.Join(t.TempDir(), "pack.zip")
	writeTestZip(t, archivePath, map[string]string{
		"manifest.json": `{
			"minecraft": {"version": "1.20.1", "modLoaders": [{"id": "forge-47.2.0", "primary": true}]},
			"name": "Importable Pack",
			"overrides": "overrides",
			"files": []
		}`,
		"overrides/config/test.cfg": "hello",
	})

	if err := im.Scan(context.Background(), CurseForgeArchive, archivePath); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	taskID, err := im.BeginImport(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("BeginImport failed: %v", err)
	}
	if taskID == 0 {
		t.Fatal("expected a nonzero task id")
	}

	insts, err := im.instances.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(insts) != 1 || insts[0].Name != "Importable Pack" {
		t.Fatalf("expected the imported instance to be persisted, got %+v", insts)
	}
}

func TestBeginImportRejectsInvalidCandidate(t *testing.T) {
	im := setupTestImporter(t)
	archivePath := filepath.Join(t.TempDir(), "bad.zip")
	writeTestZip(t, archivePath, map[string]string{"README.txt": "no manifest"})

	if err := im.Scan(context.Background(), CurseForgeArchive, archivePath); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if _, err := im.BeginImport(context.Background(), 0, ""); err == nil {
		t.Fatal("expected BeginImport to reject an invalid candidate")
	}
}
