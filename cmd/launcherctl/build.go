package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the daemon for the current platform",
	Run: func(cmd *cobra.Command, args []string) {
		if !runCheck() {
			os.Exit(1)
		}
		if err := runBuild(); err != nil {
			fmt.Printf("Build failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild() error {
	fmt.Printf("\nBuilding for %s/%s...\n", runtime.GOOS, runtime.GOARCH)

	outDir := "build/bin"
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	binName := appName
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}

	cmd := exec.Command("go", "build", "-o", filepath.Join(outDir, binName), ".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return err
	}

	fmt.Println("\nBuild completed successfully!")
	printBuildArtifacts(outDir)
	return nil
}

// printBuildArtifacts lists files under dir.
func printBuildArtifacts(dir string) {
	fmt.Println("\nBuild artifacts:")
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size := float64(info.Size()) / (1024 * 1024)
			fmt.Printf("   %s (%.1f MB)\n", path, size)
		}
		return nil
	})
}
