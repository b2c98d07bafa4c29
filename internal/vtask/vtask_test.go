package vtask

import (
	"context"
	"testing"

	"project-tachyon/internal/invalidation"
)

func TestTaskProgressWeightedAcrossSubtasks(t *testing.T) {
	m := NewManager(invalidation.NewBus())
	task := m.New(context.Background(), "install modpack")

	dl := task.AddSubtask("download mods", 3)
	extract := task.AddSubtask("extract overrides", 1)

	task.SetDownloadProgress(dl, 50, 100) // 50% of weight 3
	task.SetItemProgress(extract, 0, 10)  // 0% of weight 1

	if task.Progress.Kind != Known {
		t.Fatalf("expected Known progress, got %v", task.Progress.Kind)
	}
	// (3*0.5 + 1*0) / 4 = 0.375
	if diff := task.Progress.Fraction - 0.375; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected fraction ~0.375, got %f", task.Progress.Fraction)
	}
}

func TestTaskProgressWithOpaqueSubtask(t *testing.T) {
	m := NewManager(invalidation.NewBus())
	task := m.New(context.Background(), "install modpack")

	dl := task.AddSubtask("download", 1)
	item := task.AddSubtask("item", 3)
	opaque := task.AddSubtask("opaque", 1)

	task.SetDownloadProgress(dl, 5, 10) // 0.5
	task.SetItemProgress(item, 0, 1)    // 0
	task.SetOpaqueProgress(opaque, true)

	// (1/5)(0.5) + (3/5)(0) + (1/5)(1) = 0.3
	if diff := task.Progress.Fraction - 0.3; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected fraction ~0.3, got %f", task.Progress.Fraction)
	}

	task.SetOpaqueProgress(opaque, false)
	if diff := task.Progress.Fraction - 0.1; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected fraction ~0.1 once opaque subtask is marked incomplete again, got %f", task.Progress.Fraction)
	}
}

func TestTaskFailAndComplete(t *testing.T) {
	m := NewManager(invalidation.NewBus())
	task := m.New(context.Background(), "test")

	task.Fail(ErrTaskNotFound)
	if task.Progress.Kind != Failed {
		t.Errorf("expected Failed, got %v", task.Progress.Kind)
	}

	task.Complete()
	if task.Progress.Kind != Known || task.Progress.Fraction != 1 {
		t.Errorf("expected complete progress, got %+v", task.Progress)
	}
}

func TestManagerGetAndList(t *testing.T) {
	m := NewManager(invalidation.NewBus())
	task := m.New(context.Background(), "a")

	got, ok := m.Get(task.ID)
	if !ok || got != task {
		t.Fatalf("expected to retrieve the same task by id")
	}

	if len(m.List()) != 1 {
		t.Errorf("expected 1 task in list, got %d", len(m.List()))
	}
}

func TestCancelPropagatesToContext(t *testing.T) {
	m := NewManager(invalidation.NewBus())
	task := m.New(context.Background(), "cancellable")

	task.Cancel()
	select {
	case <-task.Context().Done():
	default:
		t.Error("expected task context to be cancelled")
	}
}
