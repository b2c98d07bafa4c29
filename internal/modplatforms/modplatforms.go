// Package modplatforms declares the external collaborators the modpack
// installer resolves Downloadables through: Mojang's version manifest,
// Fabric/Quilt/Forge loader metadata, and CurseForge/Modrinth project
// lookups. Per the spec these are opaque manifest fetchers — this
// package only fixes their shape. The module has no concrete
// implementation: main.go passes nil for all four to the installer.
package modplatforms

import "context"

// LibraryArtifact is one downloadable JAR or native contributing to a
// version's classpath.
type LibraryArtifact struct {
	Path   string // relative path under RuntimePaths.Libraries()
	URL    string
	SHA1   string
	Size   int64
	Native bool
}

// AssetObject is one entry of a Mojang asset index.
type AssetObject struct {
	Hash string
	Size int64
}

// GameVersionManifest is the resolved, already-merged view of a Mojang
// version JSON: the fields the installer actually needs to build its
// subtask groups, independent of the wire format's nesting.
type GameVersionManifest struct {
	ID            string
	AssetIndexURL string
	AssetIndexID  string
	Assets        map[string]AssetObject // path -> object
	Libraries     []LibraryArtifact
	ClientJarURL  string
	ClientJarSHA1 string
	MainClass     string
}

// LoaderProfile is a resolved Fabric/Quilt/Forge/NeoForge partial
// version: additional libraries and (for Forge-family loaders) an
// install-time processor pipeline.
type LoaderProfile struct {
	MainClass  string
	Libraries  []LibraryArtifact
	Processors []InstallProcessor
}

// InstallProcessor is one step of a Forge/NeoForge post-install
// pipeline: invoke a main class from a jar with a set of arguments
// after its inputs have been downloaded.
type InstallProcessor struct {
	JarPath string
	MainClass string
	Args      []string
	Sides     []string // "client", "server", or empty for both
}

// CurseForgeFile is one resolved file entry of a CurseForge manifest.json.
type CurseForgeFile struct {
	ProjectID   int
	FileID      int
	Filename    string
	DownloadURL string
	Fingerprint uint32
	Required    bool
}

// ModrinthFile is one resolved file entry of a modrinth.index.json.
type ModrinthFile struct {
	Path   string
	URLs   []string
	SHA512 string
	Size   int64
}

// VersionManifestFetcher resolves a Minecraft version id to its full
// manifest (libraries, asset index, client jar).
type VersionManifestFetcher interface {
	FetchVersion(ctx context.Context, versionID string) (GameVersionManifest, error)
}

// LoaderMetaFetcher resolves a mod loader's partial version info for a
// given game version and loader version.
type LoaderMetaFetcher interface {
	FetchLoaderProfile(ctx context.Context, gameVersion, loaderVersion string) (LoaderProfile, error)
}

// CurseForgeFetcher resolves CurseForge project/file metadata and
// fingerprint matches.
type CurseForgeFetcher interface {
	ResolveFiles(ctx context.Context, files []CurseForgeFile) ([]CurseForgeFile, error)
	MatchFingerprints(ctx context.Context, fingerprints []uint32) (map[uint32]CurseForgeFile, error)
}

// ModrinthFetcher resolves a modrinth.index.json's declared files.
type ModrinthFetcher interface {
	ResolveFiles(ctx context.Context, files []ModrinthFile) ([]ModrinthFile, error)
}
