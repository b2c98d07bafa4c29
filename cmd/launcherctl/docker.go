package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var dockerCmd = &cobra.Command{
	Use:   "docker",
	Short: "Build the Docker image for the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDocker()
	},
}

func init() {
	rootCmd.AddCommand(dockerCmd)
}

func runDocker() {
	fmt.Println("Building Docker image...")

	if _, err := os.Stat("Dockerfile"); os.IsNotExist(err) {
		fmt.Println("Dockerfile not found in project root")
		fmt.Println("Create a Dockerfile for the daemon first.")
		os.Exit(1)
	}

	imageName := fmt.Sprintf("tachyon-daemon:v%s", appVersion)

	cmd := exec.Command("docker", "build", "-t", imageName, ".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Printf("Docker build failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nDocker image built: %s\n", imageName)
}
