// Package runtimepath centralizes the on-disk layout of the daemon's
// runtime root: libraries, assets, managed Java installs, instances and
// their per-instance subdirectories.
package runtimepath

import (
	"os"
	"path/filepath"
)

// RuntimePaths resolves every well-known subdirectory under a single root.
type RuntimePaths struct {
	root string
}

func New(root string) *RuntimePaths {
	return &RuntimePaths{root: root}
}

func (p *RuntimePaths) Root() string         { return p.root }
func (p *RuntimePaths) Libraries() string    { return filepath.Join(p.root, "libraries") }
func (p *RuntimePaths) Assets() string       { return filepath.Join(p.root, "assets") }
func (p *RuntimePaths) Versions() string     { return filepath.Join(p.root, "versions") }
func (p *RuntimePaths) Natives() string      { return filepath.Join(p.root, "natives") }
func (p *RuntimePaths) ManagedJavas() string { return filepath.Join(p.root, "java") }
func (p *RuntimePaths) Instances() string    { return filepath.Join(p.root, "instances") }
func (p *RuntimePaths) Temp() string         { return filepath.Join(p.root, "temp") }
func (p *RuntimePaths) Downloads() string    { return filepath.Join(p.root, "downloads") }

// Instance returns the path helper for a single instance directory.
func (p *RuntimePaths) Instance(id string) *InstancePath {
	return &InstancePath{root: filepath.Join(p.Instances(), id)}
}

// EnsureAll creates every top-level runtime directory, matching the
// lazy-create-on-first-use habit of the download allocator.
func (p *RuntimePaths) EnsureAll() error {
	for _, dir := range []string{
		p.Root(), p.Libraries(), p.Assets(), p.Versions(),
		p.Natives(), p.ManagedJavas(), p.Instances(), p.Temp(), p.Downloads(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// InstancePath resolves the subdirectories and files within one instance.
type InstancePath struct {
	root string
}

func (i *InstancePath) Root() string            { return i.root }
func (i *InstancePath) Mods() string             { return filepath.Join(i.root, "mods") }
func (i *InstancePath) Config() string           { return filepath.Join(i.root, "config") }
func (i *InstancePath) Resourcepacks() string    { return filepath.Join(i.root, "resourcepacks") }
func (i *InstancePath) Shaderpacks() string      { return filepath.Join(i.root, "shaderpacks") }
func (i *InstancePath) Saves() string            { return filepath.Join(i.root, "saves") }
func (i *InstancePath) CrashReports() string     { return filepath.Join(i.root, "crash-reports") }
func (i *InstancePath) Screenshots() string      { return filepath.Join(i.root, "screenshots") }
func (i *InstancePath) Logs() string             { return filepath.Join(i.root, "logs") }
func (i *InstancePath) OptionsFile() string      { return filepath.Join(i.root, "options.txt") }
func (i *InstancePath) ServersDatFile() string   { return filepath.Join(i.root, "servers.dat") }
func (i *InstancePath) ConfigJSONFile() string   { return filepath.Join(i.root, "instance.json") }

// EnsureAll creates the standard per-instance subdirectories.
func (i *InstancePath) EnsureAll() error {
	for _, dir := range []string{
		i.Root(), i.Mods(), i.Config(), i.Resourcepacks(),
		i.Shaderpacks(), i.Saves(), i.CrashReports(), i.Screenshots(), i.Logs(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
