package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"dagsched/internal/banner"
)

// Version information set at build time via ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func newVersionCmd() *cobra.Command {
	var showBanner bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  `Displays the version and build information for this installation of dagsched.`,
		Run: func(cmd *cobra.Command, args []string) {
			banner.Version = version
			banner.GitCommit = gitCommit
			banner.BuildTime = buildTime
			if showBanner {
				banner.Print()
				return
			}
			fmt.Printf("dagsched %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Go Version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVar(&showBanner, "banner", false, "Display ASCII banner with version info")
	return cmd
}

func newHealthCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health-check",
		Short: "Perform a local health check",
		Long:  `Performs a trivial health check suitable for container health checks; use the /healthz endpoint for a running process.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("OK")
		},
	}
}
