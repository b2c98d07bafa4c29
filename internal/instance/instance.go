// Package instance is the persisted record of every game installation
// the launcher manages: its root directory, game version, mod loader
// and the modpack it was created from, plus directory-level operations
// (rename, trash/delete, explore) the control surface exposes over it.
package instance

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"project-tachyon/internal/runtimepath"
	"project-tachyon/internal/storage"
)

// Config is the versioned per-instance configuration persisted
// alongside (but independent of) the row-store record, following the
// teacher/original's pattern of a structured config blob per instance
// rather than one flat row.
type Config struct {
	JavaPath   string            `json:"java_path,omitempty"`
	JavaArgs   string            `json:"java_args,omitempty"`
	MemoryMB   int               `json:"memory_mb,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	PreLaunch  string            `json:"pre_launch_hook,omitempty"`
	PostExit   string            `json:"post_exit_hook,omitempty"`
}

// Instance is the in-memory view joining the row-store record with its
// runtime path layout.
type Instance struct {
	ID            string
	Name          string
	ShortPath     string
	GameVersion   string
	ModLoader     string
	ModpackKind   string
	ModpackLocked bool
	Config        Config
	Paths         *runtimepath.InstancePath
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LaunchStateKind distinguishes the coarse states an instance's game
// process can be in.
type LaunchStateKind string

const (
	Inactive LaunchStateKind = "inactive"
	Preparing LaunchStateKind = "preparing"
	Running   LaunchStateKind = "running"
)

// LaunchState is the instance's current process-lifecycle state.
// FailedTaskID is set when Kind is Inactive because a preceding install
// or launch VisualTask failed, so the UI can localize the failure by
// inspecting that task's subtasks.
type LaunchState struct {
	Kind         LaunchStateKind `json:"kind"`
	Pid          int             `json:"pid,omitempty"`
	FailedTaskID int32           `json:"failed_task_id,omitempty"`
}

// ExploreEntryType distinguishes a directory from a plain file in an
// Explore listing.
type ExploreEntryType string

const (
	File      ExploreEntryType = "file"
	Directory ExploreEntryType = "directory"
)

// ExploreEntry is one entry of a single-level directory listing
// returned by Store.Explore.
type ExploreEntry struct {
	Name string           `json:"name"`
	Type ExploreEntryType `json:"type"`
	Size int64            `json:"size"`
}

// DuplicateShortPathError is returned when an instance's derived
// short_path directory already exists on disk even though the row
// store reports no such short_path in use — an out-of-band folder the
// launcher never created.
type DuplicateShortPathError struct {
	ShortPath string
}

func (e *DuplicateShortPathError) Error() string {
	return fmt.Sprintf("instance directory %q already exists unexpectedly", e.ShortPath)
}

// ModpackLockedError is returned by UpdateSettings when a patch tries
// to change the game version or mod loader of an instance whose
// modpack marks those fields locked.
type ModpackLockedError struct {
	InstanceID string
}

func (e *ModpackLockedError) Error() string {
	return fmt.Sprintf("instance %s is modpack-locked: version/modloader cannot be changed", e.InstanceID)
}

// Optional models a sparse patch field with three states: a zero
// Optional (Set == false) means "leave untouched"; Set == true with a
// nil Value means "clear"; Set == true with a non-nil Value means
// "set to this value". Mirrors Option<Option<T>> from the original
// settings-patch design.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// SettingsPatch is a sparse update_settings request: fields left at
// their zero Optional are untouched; GameVersion/ModLoader patches are
// refused with ModpackLockedError when the instance is modpack-locked.
type SettingsPatch struct {
	GameVersion Optional[string]
	ModLoader   Optional[string]
	JavaPath    Optional[string]
	JavaArgs    Optional[string]
	MemoryMB    Optional[int]
	Env         Optional[map[string]string]
	PreLaunch   Optional[string]
	PostExit    Optional[string]
}

// isEmpty reports whether the patch sets, clears or touches no field
// at all, in which case UpdateSettings must be a pure no-op.
func (p SettingsPatch) isEmpty() bool {
	return !p.GameVersion.Set && !p.ModLoader.Set && !p.JavaPath.Set &&
		!p.JavaArgs.Set && !p.MemoryMB.Set && !p.Env.Set &&
		!p.PreLaunch.Set && !p.PostExit.Set
}

// ModEntry describes one jar under an instance's mods directory and
// whether it is currently disabled (renamed with a .disabled suffix).
type ModEntry struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

const disabledSuffix = ".disabled"

// Store manages instance lifecycle: creation, lookup, rename, explore
// and delete, backed by the row-store for metadata and the runtime
// path layout for the actual instance directory tree.
type Store struct {
	storage *storage.Storage
	paths   *runtimepath.RuntimePaths
}

func NewStore(s *storage.Storage, paths *runtimepath.RuntimePaths) *Store {
	return &Store{storage: s, paths: paths}
}

// Create allocates a new instance directory and persists its record.
// modpackKind is stored as given and not validated: the importer passes
// its SourceKind ("curseforge_archive", "modrinth_mrpack", "prism",
// "legacy_gdlauncher"), manual creation passes "manual".
func (st *Store) Create(name, gameVersion, modLoader, modpackKind string, cfg Config) (*Instance, error) {
	id, err := newInstanceID()
	if err != nil {
		return nil, err
	}

	shortPath, err := st.allocateShortPath(name)
	if err != nil {
		return nil, err
	}

	instPath := st.paths.Instance(shortPath)
	if err := instPath.EnsureAll(); err != nil {
		return nil, fmt.Errorf("failed to create instance directory tree: %w", err)
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now().Format(time.RFC3339)
	record := storage.InstanceRecord{
		ID:          id,
		Name:        name,
		ShortPath:   shortPath,
		RootPath:    instPath.Root(),
		GameVersion: gameVersion,
		ModLoader:   modLoader,
		ModpackKind: modpackKind,
		ConfigJSON:  string(configJSON),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.storage.SaveInstance(record); err != nil {
		return nil, fmt.Errorf("failed to persist instance record: %w", err)
	}

	return toInstance(record, instPath), nil
}

// allocateShortPath sanitizes name into a unique directory-safe form,
// appending "-N" to resolve collisions against existing instances'
// short_path values, then fails loudly if the resulting directory
// already exists on disk (an out-of-band folder the launcher never
// created for a short_path the row store doesn't know about).
func (st *Store) allocateShortPath(name string) (string, error) {
	base := sanitizeShortPath(name)

	records, err := st.storage.GetAllInstances()
	if err != nil {
		return "", fmt.Errorf("failed to check existing instances: %w", err)
	}
	taken := make(map[string]bool, len(records))
	for _, r := range records {
		taken[r.ShortPath] = true
	}

	candidate := base
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", base, n)
	}

	if _, err := os.Stat(st.paths.Instance(candidate).Root()); err == nil {
		return "", &DuplicateShortPathError{ShortPath: candidate}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat instance directory: %w", err)
	}

	return candidate, nil
}

// sanitizeShortPath reduces name to a short, filesystem-safe directory
// name: lowercased, non-alphanumeric runs collapsed to a single dash,
// leading/trailing dashes trimmed, falling back to "instance" if
// nothing alphanumeric survives.
func sanitizeShortPath(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	sanitized := strings.TrimRight(b.String(), "-")
	if sanitized == "" {
		return "instance"
	}
	return sanitized
}

func (st *Store) Get(id string) (*Instance, error) {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return nil, err
	}
	return toInstance(record, st.paths.Instance(record.ShortPath)), nil
}

func (st *Store) List() ([]*Instance, error) {
	records, err := st.storage.GetAllInstances()
	if err != nil {
		return nil, err
	}
	instances := make([]*Instance, 0, len(records))
	for _, r := range records {
		instances = append(instances, toInstance(r, st.paths.Instance(r.ShortPath)))
	}
	return instances, nil
}

// Rename updates an instance's display name without touching its
// on-disk short_path (already allocated at creation time, stable for
// the instance's lifetime).
func (st *Store) Rename(id, newName string) error {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return err
	}
	record.Name = newName
	record.UpdatedAt = time.Now().Format(time.RFC3339)
	return st.storage.SaveInstance(record)
}

// UpdateSettings applies a sparse patch to an instance's config and
// (if set) its game version / mod loader, rewriting the persisted
// record only when at least one field is actually touched. Refuses
// GameVersion/ModLoader changes with ModpackLockedError when the
// instance's modpack marks those fields locked.
func (st *Store) UpdateSettings(id string, patch SettingsPatch) error {
	if patch.isEmpty() {
		return nil
	}

	record, err := st.storage.GetInstance(id)
	if err != nil {
		return err
	}

	if (patch.GameVersion.Set || patch.ModLoader.Set) && record.ModpackLocked {
		return &ModpackLockedError{InstanceID: id}
	}
	if patch.GameVersion.Set && patch.GameVersion.Value != nil {
		record.GameVersion = *patch.GameVersion.Value
	}
	if patch.ModLoader.Set && patch.ModLoader.Value != nil {
		record.ModLoader = *patch.ModLoader.Value
	}

	var cfg Config
	_ = json.Unmarshal([]byte(record.ConfigJSON), &cfg)

	if patch.JavaPath.Set {
		cfg.JavaPath = derefOrZero(patch.JavaPath.Value)
	}
	if patch.JavaArgs.Set {
		cfg.JavaArgs = derefOrZero(patch.JavaArgs.Value)
	}
	if patch.MemoryMB.Set {
		cfg.MemoryMB = derefOrZero(patch.MemoryMB.Value)
	}
	if patch.Env.Set {
		if patch.Env.Value == nil {
			cfg.Env = nil
		} else {
			cfg.Env = *patch.Env.Value
		}
	}
	if patch.PreLaunch.Set {
		cfg.PreLaunch = derefOrZero(patch.PreLaunch.Value)
	}
	if patch.PostExit.Set {
		cfg.PostExit = derefOrZero(patch.PostExit.Value)
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	record.ConfigJSON = string(configJSON)
	record.UpdatedAt = time.Now().Format(time.RFC3339)
	return st.storage.SaveInstance(record)
}

func derefOrZero[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// ListMods lists the jars under an instance's mods directory, each
// reported enabled unless it carries the .disabled suffix.
func (st *Store) ListMods(id string) ([]ModEntry, error) {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return nil, err
	}
	modsDir := st.paths.Instance(record.ShortPath).Mods()

	entries, err := os.ReadDir(modsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ModEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read mods directory: %w", err)
	}

	mods := make([]ModEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		enabled := true
		if strings.HasSuffix(name, disabledSuffix) {
			enabled = false
			name = strings.TrimSuffix(name, disabledSuffix)
		}
		if filepath.Ext(name) != ".jar" {
			continue
		}
		mods = append(mods, ModEntry{ID: strings.TrimSuffix(name, ".jar"), Enabled: enabled})
	}
	return mods, nil
}

// EnableMod toggles a mod jar by renaming it to or from its .disabled
// form. Rejects if the expected source file is absent or the rename
// target already exists.
func (st *Store) EnableMod(id, modID string, enabled bool) error {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return err
	}
	modsDir := st.paths.Instance(record.ShortPath).Mods()

	jarName := modID + ".jar"
	enabledPath := filepath.Join(modsDir, jarName)
	disabledPath := enabledPath + disabledSuffix

	var src, dst string
	if enabled {
		src, dst = disabledPath, enabledPath
	} else {
		src, dst = enabledPath, disabledPath
	}

	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mod %s: expected file %s does not exist", modID, filepath.Base(src))
		}
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("mod %s: target %s already exists", modID, filepath.Base(dst))
	} else if !os.IsNotExist(err) {
		return err
	}

	return os.Rename(src, dst)
}

// Delete removes an instance's directory tree and its row-store
// record. trash moves the tree aside (renamed with a deleted-at
// suffix) instead of permanently erasing it, mirroring the
// trash-bin/hard-delete split the launcher exposes to the user.
func (st *Store) Delete(id string, trash bool) error {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return err
	}

	if trash {
		trashPath := record.RootPath + ".trashed-" + time.Now().Format("20060102150405")
		if err := os.Rename(record.RootPath, trashPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to move instance to trash: %w", err)
		}
	} else {
		if err := os.RemoveAll(record.RootPath); err != nil {
			return fmt.Errorf("failed to delete instance directory: %w", err)
		}
	}

	return st.storage.DeleteInstance(id, !trash)
}

// SetLaunchState persists an instance's launch-lifecycle state, used by
// the modpack installer on failure and by the process supervisor on
// launch/exit.
func (st *Store) SetLaunchState(id string, state LaunchState) error {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	record.LaunchStateJSON = string(raw)
	record.UpdatedAt = time.Now().Format(time.RFC3339)
	return st.storage.SaveInstance(record)
}

// GetLaunchState returns an instance's current launch state, defaulting
// to Inactive if none has ever been recorded.
func (st *Store) GetLaunchState(id string) (LaunchState, error) {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return LaunchState{}, err
	}
	if record.LaunchStateJSON == "" {
		return LaunchState{Kind: Inactive}, nil
	}
	var state LaunchState
	if err := json.Unmarshal([]byte(record.LaunchStateJSON), &state); err != nil {
		return LaunchState{}, err
	}
	return state, nil
}

// Explore lists one level of an instance's data directory, optionally
// descending into a relative sub-path.
func (st *Store) Explore(id string, subPath []string) ([]ExploreEntry, error) {
	record, err := st.storage.GetInstance(id)
	if err != nil {
		return nil, err
	}

	target := record.RootPath
	for _, part := range subPath {
		target = filepath.Join(target, filepath.Clean("/"+part)[1:])
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance directory: %w", err)
	}

	result := make([]ExploreEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		entryType := File
		if e.IsDir() {
			entryType = Directory
		}
		result = append(result, ExploreEntry{Name: e.Name(), Type: entryType, Size: info.Size()})
	}
	return result, nil
}

func toInstance(record storage.InstanceRecord, paths *runtimepath.InstancePath) *Instance {
	var cfg Config
	_ = json.Unmarshal([]byte(record.ConfigJSON), &cfg)

	createdAt, _ := time.Parse(time.RFC3339, record.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, record.UpdatedAt)

	return &Instance{
		ID:            record.ID,
		Name:          record.Name,
		ShortPath:     record.ShortPath,
		GameVersion:   record.GameVersion,
		ModLoader:     record.ModLoader,
		ModpackKind:   record.ModpackKind,
		ModpackLocked: record.ModpackLocked,
		Config:        cfg,
		Paths:         paths,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

func newInstanceID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
