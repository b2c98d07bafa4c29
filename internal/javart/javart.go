// Package javart discovers, probes and validates Java runtimes usable
// to launch Minecraft: a PATH/JAVA_HOME/common-install-dir scan paired
// with a "java -version" probe, whose results are stored in the daemon
// database. Every discovery run probes every candidate again.
package javart

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"project-tachyon/internal/storage"
)

// Runtime describes one probed Java installation.
type Runtime struct {
	Path      string
	Vendor    string
	Version   string
	Major     int
	Arch      string
	Is64Bit   bool
	DiscoveredAt time.Time
}

// Checker probes a candidate binary for its identity. Abstracted as an
// interface (rather than a bare function) so installer/discovery tests
// can substitute a fake that doesn't spawn a real JVM.
type Checker interface {
	Probe(ctx context.Context, path string) (Runtime, error)
}

// RealChecker shells out to the candidate binary with "-version" and
// parses the vendor/version/arch line(s) every JVM prints to stderr.
type RealChecker struct{}

var versionLineRe = regexp.MustCompile(`version "?([\w.\-_]+)"?`)
var archLineRe = regexp.MustCompile(`(?i)(64-Bit|32-Bit)`)

func (RealChecker) Probe(ctx context.Context, path string) (Runtime, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, path, "-version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return Runtime{}, fmt.Errorf("failed to run %s: %w", path, err)
		}
	}

	text := string(out)
	var vendor, version string
	is64 := archLineRe.FindString(text) != "32-Bit"

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if m := versionLineRe.FindStringSubmatch(line); m != nil {
			version = m[1]
		}
		switch {
		case strings.Contains(line, "OpenJDK"):
			vendor = "OpenJDK"
		case strings.Contains(line, "HotSpot"):
			if vendor == "" {
				vendor = "Oracle"
			}
		case strings.Contains(line, "Eclipse Adoptium") || strings.Contains(line, "Temurin"):
			vendor = "Eclipse Adoptium"
		case strings.Contains(line, "Zulu"):
			vendor = "Azul Zulu"
		}
	}
	if version == "" {
		return Runtime{}, fmt.Errorf("could not parse java version from output of %s", path)
	}

	return Runtime{
		Path:         path,
		Vendor:       vendor,
		Version:      version,
		Major:        majorVersion(version),
		Arch:         archOf(is64),
		Is64Bit:      is64,
		DiscoveredAt: time.Now(),
	}, nil
}

func archOf(is64 bool) string {
	if is64 {
		return "x86_64"
	}
	return "x86"
}

// majorVersion normalizes both the legacy "1.8.0_392" and modern
// "17.0.9" version string shapes down to a single comparable int.
func majorVersion(version string) int {
	parts := strings.Split(version, ".")
	if len(parts) == 0 {
		return 0
	}
	if parts[0] == "1" && len(parts) > 1 {
		var major int
		fmt.Sscanf(parts[1], "%d", &major)
		return major
	}
	var major int
	fmt.Sscanf(parts[0], "%d", &major)
	return major
}

// Discoverer finds Java installations across the OS's conventional
// install locations, PATH, and JAVA_HOME, probing every candidate with
// a Checker and persisting results through Store. Stored results are
// not consulted during discovery, so unchanged binaries are probed again.
type Discoverer struct {
	checker Checker
	store   *Store
}

func NewDiscoverer(checker Checker, store *Store) *Discoverer {
	if checker == nil {
		checker = RealChecker{}
	}
	return &Discoverer{checker: checker, store: store}
}

// Discover scans for Java binaries and returns every one that probed
// successfully, persisting each to the runtime cache.
func (d *Discoverer) Discover(ctx context.Context) ([]Runtime, error) {
	seen := make(map[string]bool)
	var candidates []string

	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		candidates = append(candidates, filepath.Join(javaHome, "bin", binaryName()))
	}
	if path, err := exec.LookPath(binaryName()); err == nil {
		candidates = append(candidates, path)
	}
	for _, dir := range commonInstallDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			candidate := filepath.Join(dir, e.Name(), "bin", binaryName())
			if _, err := os.Stat(candidate); err == nil {
				candidates = append(candidates, candidate)
			}
		}
	}

	var runtimes []Runtime
	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		rt, err := d.checker.Probe(ctx, abs)
		if err != nil {
			continue
		}
		runtimes = append(runtimes, rt)
		if d.store != nil {
			_ = d.store.Put(rt)
		}
	}
	return runtimes, nil
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "javaw.exe"
	}
	return "java"
}

func commonInstallDirs() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\Java`,
			`C:\Program Files\Eclipse Adoptium`,
			`C:\Program Files\Zulu`,
		}
	case "darwin":
		return []string{"/Library/Java/JavaVirtualMachines"}
	default:
		return []string{"/usr/lib/jvm", "/opt/java"}
	}
}

// Store persists probed runtimes keyed by path. Probing is never
// skipped on account of a stored row — Put simply upserts the latest
// probe result.
type Store struct {
	storage *storage.Storage
}

func NewStore(s *storage.Storage) *Store {
	return &Store{storage: s}
}

func (s *Store) Put(rt Runtime) error {
	record := storage.JavaRuntimeRecord{
		Path:         rt.Path,
		Vendor:       rt.Vendor,
		Version:      rt.Version,
		Arch:         rt.Arch,
		Is64Bit:      rt.Is64Bit,
		DiscoveredAt: rt.DiscoveredAt.Format(time.RFC3339),
	}
	return s.storage.PutJavaRuntime(record)
}

func (s *Store) List() ([]Runtime, error) {
	records, err := s.storage.GetJavaRuntimes()
	if err != nil {
		return nil, err
	}
	runtimes := make([]Runtime, 0, len(records))
	for _, r := range records {
		discoveredAt, _ := time.Parse(time.RFC3339, r.DiscoveredAt)
		runtimes = append(runtimes, Runtime{
			Path:         r.Path,
			Vendor:       r.Vendor,
			Version:      r.Version,
			Major:        majorVersion(r.Version),
			Arch:         r.Arch,
			Is64Bit:      r.Is64Bit,
			DiscoveredAt: discoveredAt,
		})
	}
	return runtimes, nil
}

// Validator checks a discovered runtime against a game version's Java
// requirement (e.g. Minecraft 1.20.5+ requires Java 21).
type Validator struct{}

// Satisfies reports whether rt meets at least minMajor and is a 64-bit
// build (Minecraft has required 64-bit Java since 1.18).
func (Validator) Satisfies(rt Runtime, minMajor int) bool {
	return rt.Major >= minMajor && rt.Is64Bit
}
