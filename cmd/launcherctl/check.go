package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify all required tools are installed",
	Run: func(cmd *cobra.Command, args []string) {
		if !runCheck() {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// runCheck verifies all required tools are installed, returning false
// if any are missing.
func runCheck() bool {
	fmt.Println("Checking required tools...")

	tools := []struct {
		name  string
		check string
		args  []string
	}{
		{"go", "go", []string{"version"}},
	}

	allFound := true
	for _, tool := range tools {
		cmd := exec.Command(tool.check, tool.args...)
		output, err := cmd.Output()
		if err != nil {
			fmt.Printf("CRITICAL: %s is missing or not in PATH\n", tool.name)
			allFound = false
			continue
		}
		version := strings.TrimSpace(string(output))
		if len(version) > 50 {
			version = version[:50] + "..."
		}
		fmt.Printf("%s: %s\n", tool.name, version)
	}

	if !allFound {
		fmt.Println("\nSome required tools are missing. Please install them and try again.")
	} else {
		fmt.Println("\nAll tools verified!")
	}
	return allFound
}
