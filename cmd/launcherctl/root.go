// Package main implements the operator-facing build/release CLI for
// the launcher daemon: checking the local toolchain, building for the
// current platform, cross-compiling release binaries, and building
// the Docker image.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "tachyond"
	appVersion = "1.0.0" // TODO: read from version file
)

var rootCmd = &cobra.Command{
	Use:   "launcherctl",
	Short: "Build and release tooling for the launcher daemon",
	Long:  `launcherctl builds, cross-compiles and packages the launcher daemon binary.`,
}

// Execute initializes the root command tree and delegates to Cobra for
// argument parsing and subcommand dispatch.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
