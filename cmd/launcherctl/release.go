package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Cross-compile release binaries for all supported platforms",
	Run: func(cmd *cobra.Command, args []string) {
		if !runCheck() {
			os.Exit(1)
		}
		runRelease()
	},
}

func init() {
	rootCmd.AddCommand(releaseCmd)
}

// runRelease cross-compiles release binaries for every supported
// platform. A plain daemon binary (no cgo desktop shell) cross-compiles
// cleanly via GOOS/GOARCH, so every target runs regardless of host OS.
func runRelease() {
	fmt.Println("\nBuilding release binaries...")

	platforms := []struct {
		goos   string
		goarch string
	}{
		{"windows", "amd64"},
		{"darwin", "amd64"},
		{"darwin", "arm64"},
		{"linux", "amd64"},
		{"linux", "arm64"},
	}

	buildDir := "build/release"
	os.MkdirAll(buildDir, 0755)

	for _, p := range platforms {
		binName := fmt.Sprintf("%s-v%s-%s-%s", appName, appVersion, p.goos, p.goarch)
		if p.goos == "windows" {
			binName += ".exe"
		}

		fmt.Printf("\nBuilding for %s/%s...\n", p.goos, p.goarch)

		cmd := exec.Command("go", "build", "-o", filepath.Join(buildDir, binName), ".")
		cmd.Env = append(os.Environ(),
			"GOOS="+p.goos,
			"GOARCH="+p.goarch,
			"CGO_ENABLED=0",
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			fmt.Printf("Build failed for %s/%s: %v\n", p.goos, p.goarch, err)
			continue
		}
	}

	fmt.Println("\nRelease build completed!")
	fmt.Printf("Artifacts in: %s\n", buildDir)
}
