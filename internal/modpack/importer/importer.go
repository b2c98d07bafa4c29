// Package importer implements the modpack import state machine: scan a
// source (a CurseForge zip, a Modrinth .mrpack, or a foreign launcher's
// instance directory) for candidates, let the caller inspect them, then
// begin importing one as a new instance under a VisualTask.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"project-tachyon/internal/hash"
	"project-tachyon/internal/instance"
	"project-tachyon/internal/invalidation"
	"project-tachyon/internal/modplatforms"
	"project-tachyon/internal/vtask"
)

// SourceKind identifies which importer implementation scanned a path.
type SourceKind string

const (
	CurseForgeArchive SourceKind = "curseforge_archive"
	ModrinthPack      SourceKind = "modrinth_mrpack"
	LegacyGDLauncher  SourceKind = "legacy_gdlauncher"
	Prism             SourceKind = "prism"
)

// ScanStatusKind distinguishes the three shapes Status can return.
type ScanStatusKind string

const (
	NoResults   ScanStatusKind = "no_results"
	SingleResult ScanStatusKind = "single_result"
	MultiResult  ScanStatusKind = "multi_result"
)

// Candidate is one entry discovered by a scan: either a valid
// importable pack/instance, or an entry that couldn't be parsed. Invalid
// entries are always surfaced (never silently dropped), mirroring the
// spec's translation-keyed Invalid{name, reason} shape.
type Candidate struct {
	Name    string
	Valid   bool
	Reason  string // set when !Valid
	Kind    SourceKind
	Source  string // archive path, or directory path for legacy/foreign scans

	// Parsed manifest fields, populated when Valid.
	GameVersion string
	ModLoader   string
	ModLoaderVersion string
	Files       []modplatforms.CurseForgeFile
	ModrinthFiles []modplatforms.ModrinthFile
	Overrides   string // archive entry prefix holding the overrides tree, if any
}

// ScanStatus is the result of the most recent scan.
type ScanStatus struct {
	Kind       ScanStatusKind
	Candidates []Candidate
}

// Importer runs one scan/status/begin_import cycle against a chosen
// root path. The daemon shares one Importer; each Scan replaces the
// candidate list left by the previous scan.
type Importer struct {
	instances *instance.Store
	tasks     *vtask.Manager
	bus       *invalidation.Bus

	mu         sync.Mutex
	candidates []Candidate
}

func New(instances *instance.Store, tasks *vtask.Manager, bus *invalidation.Bus) *Importer {
	return &Importer{instances: instances, tasks: tasks, bus: bus}
}

// Scan inspects rootPath, populating internal candidate state and
// publishing an invalidation event so a UI polling GET_IMPORT_SCAN_STATUS
// refreshes. kind selects which concrete scan strategy to run.
func (im *Importer) Scan(ctx context.Context, kind SourceKind, rootPath string) error {
	var candidates []Candidate
	var err error

	switch kind {
	case CurseForgeArchive:
		candidates, err = scanCurseForgeArchive(rootPath)
	case ModrinthPack:
		candidates, err = scanModrinthPack(rootPath)
	case LegacyGDLauncher:
		candidates, err = scanLegacyGDLauncherDir(rootPath)
	case Prism:
		candidates, err = scanPrismDir(rootPath)
	default:
		return fmt.Errorf("unknown importer source kind: %s", kind)
	}
	if err != nil {
		return err
	}

	im.mu.Lock()
	im.candidates = candidates
	im.mu.Unlock()

	if im.bus != nil {
		im.bus.Publish(invalidation.Event{Topic: "import.scanStatus", Payload: im.Status()})
	}
	return nil
}

// Status reports the current scan result shape.
func (im *Importer) Status() ScanStatus {
	im.mu.Lock()
	defer im.mu.Unlock()

	switch len(im.candidates) {
	case 0:
		return ScanStatus{Kind: NoResults}
	case 1:
		return ScanStatus{Kind: SingleResult, Candidates: im.candidates}
	default:
		return ScanStatus{Kind: MultiResult, Candidates: im.candidates}
	}
}

// BeginImport creates the instance shell for candidate index and
// returns a VisualTask id; in the background the task extracts the
// candidate's overrides tree into the instance. The pack's declared
// mod files are not downloaded by this task.
func (im *Importer) BeginImport(ctx context.Context, index int, overrideName string) (int32, error) {
	im.mu.Lock()
	if index < 0 || index >= len(im.candidates) {
		im.mu.Unlock()
		return 0, fmt.Errorf("candidate index %d out of range", index)
	}
	c := im.candidates[index]
	im.mu.Unlock()

	if !c.Valid {
		return 0, fmt.Errorf("cannot import invalid candidate %q: %s", c.Name, c.Reason)
	}

	name := c.Name
	if overrideName != "" {
		name = overrideName
	}

	inst, err := im.instances.Create(name, c.GameVersion, c.ModLoader, string(c.Kind), instance.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create instance shell: %w", err)
	}

	task := im.tasks.New(ctx, "InstanceImport")
	go im.runImport(task, inst, c)

	return task.ID, nil
}

func (im *Importer) runImport(task *vtask.Task, inst *instance.Instance, c Candidate) {
	defer im.tasks.Publish(task)

	st := task.AddSubtask("overrides", 1)
	if c.Overrides != "" && c.Source != "" {
		if err := extractOverrides(c.Source, c.Overrides, inst.Paths.Root()); err != nil {
			task.Fail(fmt.Errorf("failed to extract overrides: %w", err))
			return
		}
	}
	task.SetItemProgress(st, 1, 1)
	task.Complete()
}

func extractOverrides(archivePath, overridesPrefix, destRoot string) error {
	entries, err := archiveListFn(archivePath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !hasPrefix(e.Name, overridesPrefix+"/") {
			continue
		}
		rel := e.Name[len(overridesPrefix)+1:]
		if rel == "" {
			continue
		}
		data, err := archiveReadFileFn(archivePath, e.Name)
		if err != nil {
			return err
		}
		target := filepath.Join(destRoot, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// manifestJSON is the CurseForge manifest.json shape.
type manifestJSON struct {
	Minecraft struct {
		Version    string `json:"version"`
		ModLoaders []struct {
			ID      string `json:"id"`
			Primary bool   `json:"primary"`
		} `json:"modLoaders"`
	} `json:"minecraft"`
	Name      string `json:"name"`
	Overrides string `json:"overrides"`
	Files     []struct {
		ProjectID int  `json:"projectID"`
		FileID    int  `json:"fileID"`
		Required  bool `json:"required"`
	} `json:"files"`
}

// modrinthIndexJSON is the modrinth.index.json shape.
type modrinthIndexJSON struct {
	Name         string `json:"name"`
	Dependencies map[string]string `json:"dependencies"` // "minecraft" / "fabric-loader" / "forge" / "quilt-loader"
	Files        []struct {
		Path   string   `json:"path"`
		Hashes struct {
			SHA512 string `json:"sha512"`
		} `json:"hashes"`
		Downloads []string `json:"downloads"`
		FileSize  int64    `json:"fileSize"`
	} `json:"files"`
}

func scanCurseForgeArchive(archivePath string) ([]Candidate, error) {
	raw, err := archiveReadFileFn(archivePath, "manifest.json")
	if err != nil {
		return []Candidate{{Valid: false, Name: filepath.Base(archivePath), Reason: "manifest.json not found in archive", Kind: CurseForgeArchive, Source: archivePath}}, nil
	}

	var m manifestJSON
	if err := json.Unmarshal(raw, &m); err != nil {
		return []Candidate{{Valid: false, Name: filepath.Base(archivePath), Reason: fmt.Sprintf("malformed manifest.json: %v", err), Kind: CurseForgeArchive, Source: archivePath}}, nil
	}

	loader, loaderVersion := "", ""
	for _, l := range m.Minecraft.ModLoaders {
		if l.Primary {
			loader, loaderVersion = splitLoaderID(l.ID)
			break
		}
	}

	files := make([]modplatforms.CurseForgeFile, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, modplatforms.CurseForgeFile{ProjectID: f.ProjectID, FileID: f.FileID, Required: f.Required})
	}

	// The archive's murmur2 fingerprint is computed and discarded: no
	// CurseForge lookup is made and the candidate is not marked as a
	// managed CurseForge file.
	_, _ = hash.Murmur2Fingerprint(archivePath)

	return []Candidate{{
		Name:        m.Name,
		Valid:       true,
		Kind:        CurseForgeArchive,
		Source:      archivePath,
		GameVersion: m.Minecraft.Version,
		ModLoader:   loader,
		ModLoaderVersion: loaderVersion,
		Files:       files,
		Overrides:   m.Overrides,
	}}, nil
}

func splitLoaderID(id string) (loader, version string) {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			return id[:i], id[i+1:]
		}
	}
	return id, ""
}

func scanModrinthPack(packPath string) ([]Candidate, error) {
	raw, err := archiveReadFileFn(packPath, "modrinth.index.json")
	if err != nil {
		return []Candidate{{Valid: false, Name: filepath.Base(packPath), Reason: "modrinth.index.json not found in archive", Kind: ModrinthPack, Source: packPath}}, nil
	}

	var idx modrinthIndexJSON
	if err := json.Unmarshal(raw, &idx); err != nil {
		return []Candidate{{Valid: false, Name: filepath.Base(packPath), Reason: fmt.Sprintf("malformed modrinth.index.json: %v", err), Kind: ModrinthPack, Source: packPath}}, nil
	}

	loader, loaderVersion := "", ""
	for _, key := range []string{"fabric-loader", "quilt-loader", "forge", "neoforge"} {
		if v, ok := idx.Dependencies[key]; ok {
			loader, loaderVersion = key, v
			break
		}
	}

	files := make([]modplatforms.ModrinthFile, 0, len(idx.Files))
	for _, f := range idx.Files {
		files = append(files, modplatforms.ModrinthFile{Path: f.Path, URLs: f.Downloads, SHA512: f.Hashes.SHA512, Size: f.FileSize})
	}

	return []Candidate{{
		Name:          idx.Name,
		Valid:         true,
		Kind:          ModrinthPack,
		Source:        packPath,
		GameVersion:   idx.Dependencies["minecraft"],
		ModLoader:     loader,
		ModLoaderVersion: loaderVersion,
		ModrinthFiles: files,
		Overrides:     "overrides",
	}}, nil
}

// legacyGDLauncherConfig mirrors the foreign launcher's own instance
// config JSON shape (the "_Loader" struct grounding this importer).
type legacyGDLauncherConfig struct {
	Loader struct {
		LoaderType string `json:"loaderType"`
		MCVersion  string `json:"mcVersion"`
		FileID     int    `json:"fileId"`
		ProjectID  int    `json:"projectId"`
	} `json:"loader"`
}

func scanLegacyGDLauncherDir(root string) ([]Candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan directory: %w", err)
	}

	var out []Candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cfgPath := filepath.Join(root, e.Name(), "config.json")
		raw, err := os.ReadFile(cfgPath)
		if err != nil {
			out = append(out, Candidate{Name: e.Name(), Valid: false, Reason: "missing config.json", Kind: LegacyGDLauncher, Source: filepath.Join(root, e.Name())})
			continue
		}
		var cfg legacyGDLauncherConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			out = append(out, Candidate{Name: e.Name(), Valid: false, Reason: "malformed config.json", Kind: LegacyGDLauncher, Source: filepath.Join(root, e.Name())})
			continue
		}
		out = append(out, Candidate{
			Name:        e.Name(),
			Valid:       true,
			Kind:        LegacyGDLauncher,
			Source:      filepath.Join(root, e.Name()),
			GameVersion: cfg.Loader.MCVersion,
			ModLoader:   cfg.Loader.LoaderType,
		})
	}
	return out, nil
}

// prismInstanceCfg mirrors Prism/MultiMC's flat "key=value" instance.cfg.
func parsePrismInstanceCfg(text string) map[string]string {
	values := make(map[string]string)
	for _, line := range splitLines(text) {
		if idx := indexByte(line, '='); idx >= 0 {
			values[line[:idx]] = line[idx+1:]
		}
	}
	return values
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

type mmcPackJSON struct {
	Components []struct {
		UID     string `json:"uid"`
		Version string `json:"version"`
	} `json:"components"`
}

var mmcComponentGameVersions = map[string]bool{"net.minecraft": true}
var mmcComponentLoaders = map[string]string{
	"net.minecraftforge":       "forge",
	"net.fabricmc.fabric-loader": "fabric",
	"org.quiltmc.quilt-loader": "quilt",
	"net.neoforged":            "neoforge",
}

func scanPrismDir(root string) ([]Candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan directory: %w", err)
	}

	var out []Candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		instDir := filepath.Join(root, e.Name())
		cfgText, cfgErr := os.ReadFile(filepath.Join(instDir, "instance.cfg"))
		packRaw, packErr := os.ReadFile(filepath.Join(instDir, "mmc-pack.json"))
		if cfgErr != nil || packErr != nil {
			out = append(out, Candidate{Name: e.Name(), Valid: false, Reason: "missing instance.cfg or mmc-pack.json", Kind: Prism, Source: instDir})
			continue
		}

		cfg := parsePrismInstanceCfg(string(cfgText))
		var pack mmcPackJSON
		if err := json.Unmarshal(packRaw, &pack); err != nil {
			out = append(out, Candidate{Name: e.Name(), Valid: false, Reason: "malformed mmc-pack.json", Kind: Prism, Source: instDir})
			continue
		}

		var gameVersion, loader, loaderVersion string
		for _, c := range pack.Components {
			if mmcComponentGameVersions[c.UID] {
				gameVersion = c.Version
			}
			if l, ok := mmcComponentLoaders[c.UID]; ok {
				loader, loaderVersion = l, c.Version
			}
		}

		name := cfg["name"]
		if name == "" {
			name = e.Name()
		}
		out = append(out, Candidate{
			Name: name, Valid: true, Kind: Prism, Source: instDir,
			GameVersion: gameVersion, ModLoader: loader, ModLoaderVersion: loaderVersion,
		})
	}
	return out, nil
}
