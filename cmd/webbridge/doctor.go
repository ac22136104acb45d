package cli

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/webbridge/webbridge/internal/engine"
)

// DoctorCmd creates the doctor command for health checks
func DoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, browser binary, and port availability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

type checkResult struct {
	name    string
	status  string // "ok", "warn", "error"
	message string
}

func runDoctor() {
	fmt.Println("webbridge doctor")
	fmt.Println("================")
	fmt.Println()

	var results []checkResult
	results = append(results, checkConfiguration())
	results = append(results, checkBrowser())
	results = append(results, checkDataDir())
	results = append(results, checkPort())

	fmt.Println()
	errorCount := 0
	for _, r := range results {
		switch r.status {
		case "ok":
			fmt.Printf("  ok    %s: %s\n", r.name, r.message)
		case "warn":
			fmt.Printf("  warn  %s: %s\n", r.name, r.message)
		case "error":
			fmt.Printf("  ERROR %s: %s\n", r.name, r.message)
			errorCount++
		}
	}

	if errorCount > 0 {
		os.Exit(1)
	}
}

func checkConfiguration() checkResult {
	_, err := loadResolved()
	if err != nil {
		return checkResult{"config", "error", err.Error()}
	}
	return checkResult{"config", "ok", "loaded and resolved"}
}

func checkBrowser() checkResult {
	resolved, err := loadResolved()
	if err != nil {
		return checkResult{"browser", "error", "config failed to resolve"}
	}
	exe, err := engine.FindExecutable(resolved.ExecutablePath)
	if err != nil {
		return checkResult{"browser", "error", err.Error()}
	}
	return checkResult{"browser", "ok", fmt.Sprintf("%s at %s", exe.Kind, exe.Path)}
}

func checkDataDir() checkResult {
	resolved, err := loadResolved()
	if err != nil {
		return checkResult{"data dir", "error", "config failed to resolve"}
	}
	if err := os.MkdirAll(resolved.DataDir, 0o755); err != nil {
		return checkResult{"data dir", "error", err.Error()}
	}
	f, err := os.CreateTemp(resolved.DataDir, ".probe-*")
	if err != nil {
		return checkResult{"data dir", "error", fmt.Sprintf("%s is not writable", resolved.DataDir)}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return checkResult{"data dir", "ok", resolved.DataDir}
}

func checkPort() checkResult {
	resolved, err := loadResolved()
	if err != nil {
		return checkResult{"port", "error", "config failed to resolve"}
	}
	addr := fmt.Sprintf("%s:%d", resolved.Host, resolved.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return checkResult{"port", "error", fmt.Sprintf("%s is already in use", addr)}
	}
	ln.Close()
	return checkResult{"port", "ok", addr}
}
