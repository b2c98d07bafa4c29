package instance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"project-tachyon/internal/runtimepath"
	"project-tachyon/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
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
	return NewStore(&storage.Storage{DB: db}, paths)
}

func TestCreateAndGet(t *testing.T) {
	st := setupTestStore(t)

	inst, err := st.Create("My Pack", "1.20.1", "forge", "curseforge", Config{MemoryMB: 4096})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if inst.Name != "My Pack" || inst.Config.MemoryMB != 4096 {
		t.Fatalf("unexpected instance: %+v", inst)
	}

	got, err := st.Get(inst.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != inst.ID || got.GameVersion != "1.20.1" {
		t.Fatalf("Get returned mismatched instance: %+v", got)
	}
}

func TestCreateUsesSanitizedShortPathAsDirectory(t *testing.T) {
	st := setupTestStore(t)

	inst, err := st.Create("Test", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if inst.ShortPath != "test" {
		t.Fatalf("expected short_path %q, got %q", "test", inst.ShortPath)
	}
	if _, err := os.Stat(inst.Paths.Root()); err != nil {
		t.Fatalf("expected instance directory to exist at short_path root: %v", err)
	}
}

func TestCreateResolvesShortPathCollisionWithSuffix(t *testing.T) {
	st := setupTestStore(t)

	first, err := st.Create("Duplicate Name", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	second, err := st.Create("Duplicate Name", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	if first.ShortPath != "duplicate-name" {
		t.Fatalf("expected first short_path %q, got %q", "duplicate-name", first.ShortPath)
	}
	if second.ShortPath != "duplicate-name-2" {
		t.Fatalf("expected collision-resolved short_path %q, got %q", "duplicate-name-2", second.ShortPath)
	}
}

func TestCreateFailsOnUnexpectedExistingDirectory(t *testing.T) {
	st := setupTestStore(t)

	precreated := st.paths.Instance("squatter").Root()
	if err := os.MkdirAll(precreated, 0755); err != nil {
		t.Fatalf("failed to pre-create directory: %v", err)
	}

	_, err := st.Create("Squatter", "1.20.1", "forge", "manual", Config{})
	if err == nil {
		t.Fatal("expected Create to fail on unexpected existing directory")
	}
	if _, ok := err.(*DuplicateShortPathError); !ok {
		t.Fatalf("expected a *DuplicateShortPathError, got %v", err)
	}
}

func TestListReturnsAllInstances(t *testing.T) {
	st := setupTestStore(t)
	st.Create("A", "1.20.1", "forge", "manual", Config{})
	st.Create("B", "1.19.2", "fabric", "modrinth", Config{})

	all, err := st.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(all))
	}
}

func TestDeleteTrashMovesDirectory(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Trashme", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := st.Delete(inst.ID, true); err != nil {
		t.Fatalf("Delete(trash) failed: %v", err)
	}
	if _, err := st.Get(inst.ID); err == nil {
		t.Fatal("expected instance record to be soft-deleted")
	}
}

func TestExploreListsDirectory(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Explorable", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entries, err := st.Explore(inst.ID, nil)
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	var foundMods bool
	for _, e := range entries {
		if e.Name == "mods" && e.Type == Directory {
			foundMods = true
		}
	}
	if !foundMods {
		t.Fatalf("expected mods directory in listing, got %v", entries)
	}
}

func TestExploreSubPath(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Explorable2", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	record, err := st.storage.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	modsDir := filepath.Join(record.RootPath, "mods")
	if _, err := st.Explore(inst.ID, []string{filepath.Base(modsDir)}); err != nil {
		t.Fatalf("Explore(mods) failed: %v", err)
	}
}

func TestEnableModTogglesDisabledSuffix(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Modded", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	modsDir := inst.Paths.Mods()
	disabledPath := filepath.Join(modsDir, "modA.jar.disabled")
	if err := os.WriteFile(disabledPath, []byte("jar bytes"), 0644); err != nil {
		t.Fatalf("failed to seed disabled mod: %v", err)
	}

	if err := st.EnableMod(inst.ID, "modA", true); err != nil {
		t.Fatalf("EnableMod(true) failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(modsDir, "modA.jar")); err != nil {
		t.Fatalf("expected modA.jar to exist after enabling: %v", err)
	}
	if _, err := os.Stat(disabledPath); !os.IsNotExist(err) {
		t.Fatalf("expected modA.jar.disabled to be gone after enabling")
	}

	mods, err := st.ListMods(inst.ID)
	if err != nil {
		t.Fatalf("ListMods failed: %v", err)
	}
	if len(mods) != 1 || !mods[0].Enabled || mods[0].ID != "modA" {
		t.Fatalf("unexpected mod list: %+v", mods)
	}

	if err := st.EnableMod(inst.ID, "modA", false); err != nil {
		t.Fatalf("EnableMod(false) failed: %v", err)
	}
	if _, err := os.Stat(disabledPath); err != nil {
		t.Fatalf("expected modA.jar.disabled to exist after disabling: %v", err)
	}
}

func TestEnableModRejectsMissingSource(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Modded2", "1.20.1", "forge", "manual", Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := st.EnableMod(inst.ID, "ghost", true); err == nil {
		t.Fatal("expected EnableMod to fail when the source jar is absent")
	}
}

func TestUpdateSettingsNoopWhenPatchEmpty(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Settings", "1.20.1", "forge", "manual", Config{MemoryMB: 2048})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	before, err := st.storage.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}

	if err := st.UpdateSettings(inst.ID, SettingsPatch{}); err != nil {
		t.Fatalf("UpdateSettings(empty patch) failed: %v", err)
	}

	after, err := st.storage.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if before.UpdatedAt != after.UpdatedAt {
		t.Fatalf("expected no-op patch not to rewrite the record")
	}
}

func TestUpdateSettingsSetAndClear(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Settings2", "1.20.1", "forge", "manual", Config{JavaArgs: "-Xmx2G"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mem := 4096
	if err := st.UpdateSettings(inst.ID, SettingsPatch{
		MemoryMB:  Optional[int]{Set: true, Value: &mem},
		JavaArgs:  Optional[string]{Set: true}, // clear
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	got, err := st.Get(inst.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Config.MemoryMB != 4096 {
		t.Fatalf("expected MemoryMB to be set to 4096, got %d", got.Config.MemoryMB)
	}
	if got.Config.JavaArgs != "" {
		t.Fatalf("expected JavaArgs to be cleared, got %q", got.Config.JavaArgs)
	}
}

func TestUpdateSettingsRefusesVersionChangeWhenModpackLocked(t *testing.T) {
	st := setupTestStore(t)
	inst, err := st.Create("Locked", "1.20.1", "forge", "curseforge", Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	record, err := st.storage.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	record.ModpackLocked = true
	if err := st.storage.SaveInstance(record); err != nil {
		t.Fatalf("failed to mark modpack locked: %v", err)
	}

	newVersion := "1.21.0"
	err = st.UpdateSettings(inst.ID, SettingsPatch{GameVersion: Optional[string]{Set: true, Value: &newVersion}})
	if err == nil {
		t.Fatal("expected UpdateSettings to refuse a version change on a modpack-locked instance")
	}
	if _, ok := err.(*ModpackLockedError); !ok {
		t.Fatalf("expected a *ModpackLockedError, got %v", err)
	}
}
