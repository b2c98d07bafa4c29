package importer

import "project-tachyon/internal/archive"

// archiveListFn/archiveReadFileFn indirect through package vars (rather
// than calling internal/archive directly) so tests can substitute a zip
// built in a temp dir without needing real CurseForge/Modrinth fixtures.
var (
	archiveListFn     = archive.List
	archiveReadFileFn = archive.ReadFile
)
