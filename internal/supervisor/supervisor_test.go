package supervisor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"project-tachyon/internal/instance"
	"project-tachyon/internal/invalidation"
	"project-tachyon/internal/runtimepath"
	"project-tachyon/internal/storage"
)

func setupTestSupervisor(t *testing.T) (*Supervisor, *instance.Store) {
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

	store := &storage.Storage{DB: db}
	paths := runtimepath.New(t.TempDir())
	instances := instance.NewStore(store, paths)
	bus := invalidation.NewBus()

	return New(instances, bus), instances
}

func TestLaunchRecordsPidAndReapsOnExit(t *testing.T) {
	sup, instances := setupTestSupervisor(t)

	inst, err := instances.Create("Test Instance", "1.20.1", "", "manual", instance.Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cmd := exec.Command("sleep", "0.2")
	pid, err := sup.Launch(inst.ID, cmd)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if pid == 0 {
		t.Fatal("expected a nonzero pid")
	}

	state, err := instances.GetLaunchState(inst.ID)
	if err != nil {
		t.Fatalf("GetLaunchState failed: %v", err)
	}
	if state.Kind != instance.Running || state.Pid != pid {
		t.Fatalf("expected Running{pid=%d}, got %+v", pid, state)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err = instances.GetLaunchState(inst.ID)
		if err != nil {
			t.Fatalf("GetLaunchState failed: %v", err)
		}
		if state.Kind == instance.Inactive {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if state.Kind != instance.Inactive {
		t.Fatalf("expected instance to return to Inactive after exit, got %+v", state)
	}
}

func TestLaunchRejectsDuplicateRunningInstance(t *testing.T) {
	sup, instances := setupTestSupervisor(t)

	inst, err := instances.Create("Test Instance", "1.20.1", "", "manual", instance.Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := sup.Launch(inst.ID, exec.Command("sleep", "0.5")); err != nil {
		t.Fatalf("first Launch failed: %v", err)
	}
	if _, err := sup.Launch(inst.ID, exec.Command("sleep", "0.5")); err == nil {
		t.Fatal("expected second Launch for the same instance to fail")
	}
}

func TestWatchParentFiresWhenParentExits(t *testing.T) {
	cmd := exec.Command("sleep", "0.2")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start fake parent: %v", err)
	}
	ppid := int32(cmd.Process.Pid)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go WatchParent(ctx, ppid, func() { close(done) })

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("WatchParent did not observe parent exit in time")
	}
	_ = cmd.Wait()
}
