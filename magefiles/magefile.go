//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const versionPkg = "github.com/okdaichi/overlaysync/internal/version"

// Default target to run when none is specified
var Default = Help

// Help displays available mage targets
func Help() error {
	fmt.Println("📖 overlaysync - overlay config relay & client")
	fmt.Printf("   Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("Available targets:")
	fmt.Println()
	fmt.Println("  🔨 Build & Install:")
	fmt.Println("    mage build        - Build overlaysync binary")
	fmt.Println("    mage install      - Install overlaysync to $GOPATH/bin")
	fmt.Println("    mage clean        - Clean build artifacts")
	fmt.Println()
	fmt.Println("  🧪 Development:")
	fmt.Println("    mage test         - Run all tests")
	fmt.Println("    mage testVerbose  - Run tests with verbose output")
	fmt.Println("    mage fmt          - Format code with go fmt")
	fmt.Println("    mage vet          - Run go vet for static analysis")
	fmt.Println("    mage lint         - Run golangci-lint (if installed)")
	fmt.Println("    mage check        - Run fmt, vet, and test")
	fmt.Println()
	fmt.Println("  🚀 Runtime:")
	fmt.Println("    mage relay        - Start relay server")
	fmt.Println("    mage watch        - Render live updates into ./overlay")
	fmt.Println("    mage demo         - Publish a sample document")
	fmt.Println()
	fmt.Println("  ℹ️  Info:")
	fmt.Println("    mage -l           - List all targets")
	fmt.Println("    mage help         - Show this help")
	fmt.Println()
	return nil
}

// ldflags stamps the version package with git metadata.
func ldflags() string {
	version := "dev"
	if out, err := sh.Output("git", "describe", "--tags", "--always", "--dirty"); err == nil && out != "" {
		version = out
	}
	commit := "none"
	if out, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && out != "" {
		commit = out
	}
	date := time.Now().UTC().Format(time.RFC3339)

	return strings.Join([]string{
		fmt.Sprintf("-X %s.version=%s", versionPkg, version),
		fmt.Sprintf("-X %s.commit=%s", versionPkg, commit),
		fmt.Sprintf("-X %s.date=%s", versionPkg, date),
	}, " ")
}

// Build builds the overlaysync binary
func Build() error {
	fmt.Println("🔨 Building overlaysync binary...")

	binaryName := "overlaysync"
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}

	if err := os.MkdirAll("bin", 0755); err != nil {
		return err
	}

	cmd := exec.Command("go", "build", "-ldflags", ldflags(), "-o", "./bin/"+binaryName, ".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return err
	}

	fmt.Println("✅ Built: bin/" + binaryName)
	return nil
}

// Install installs the overlaysync binary to $GOPATH/bin
func Install() error {
	fmt.Println("📦 Installing overlaysync to $GOPATH/bin...")

	cmd := exec.Command("go", "install", "-ldflags", ldflags(), ".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return err
	}

	fmt.Println("✅ Installed: overlaysync")
	fmt.Println("   Run with: overlaysync relay -config configs/config.yaml")
	fmt.Println("            overlaysync watch -config configs/config.yaml")
	return nil
}

// Test runs all tests
func Test() error {
	fmt.Println("🧪 Running tests...")

	cmd := exec.Command("go", "test", "./...", "-count=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// TestVerbose runs all tests with verbose output
func TestVerbose() error {
	fmt.Println("🧪 Running tests (verbose)...")

	cmd := exec.Command("go", "test", "./...", "-v", "-count=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Fmt formats all Go code
func Fmt() error {
	fmt.Println("✨ Formatting code...")
	return sh.RunV("go", "fmt", "./...")
}

// Vet runs go vet for static analysis
func Vet() error {
	fmt.Println("🔍 Running go vet...")
	return sh.RunV("go", "vet", "./...")
}

// Lint runs golangci-lint if installed
func Lint() error {
	fmt.Println("🔎 Running golangci-lint...")

	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println("⚠️  golangci-lint not found, skipping...")
		fmt.Println("   Install: https://golangci-lint.run/usage/install/")
		return nil
	}

	return sh.RunV("golangci-lint", "run", "./...")
}

// Check runs fmt, vet, and test
func Check() error {
	fmt.Println("🔍 Running checks...")
	mg.SerialDeps(Fmt, Vet, Test)
	fmt.Println("✅ All checks passed!")
	return nil
}

// Relay starts the relay server
func Relay() error {
	fmt.Println("📡 Starting overlaysync relay...")
	fmt.Println("   Config: ./configs/config.yaml")
	fmt.Println("   HTTP/WebSocket: http://localhost:3000")
	fmt.Println()

	return sh.RunV("go", "run", ".", "relay", "-config", "configs/config.yaml")
}

// Watch renders live updates into ./overlay
func Watch() error {
	fmt.Println("👀 Watching for overlay updates...")
	fmt.Println("   Output: ./overlay/overlay.css, ./overlay/overlay.json")
	fmt.Println()

	return sh.RunV("go", "run", ".", "watch", "-config", "configs/config.yaml")
}

// Demo publishes a sample document through the running relay
func Demo() error {
	fmt.Println("📤 Publishing sample document...")

	doc := `{"text":"HELLO","fontSize":48,"color":"#ffffff","stroke":{"enabled":true,"color":"#000000","widthPx":2}}`
	cmd := exec.Command("go", "run", ".", "publish", "-config", "configs/config.yaml")
	cmd.Stdin = strings.NewReader(doc)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Clean removes build artifacts
func Clean() error {
	fmt.Println("🧹 Cleaning build artifacts...")

	if err := sh.Rm("bin"); err != nil {
		fmt.Println("⚠️  No bin directory to clean")
	} else {
		fmt.Println("   Removed: bin/")
	}
	if err := sh.Rm("overlay"); err == nil {
		fmt.Println("   Removed: overlay/")
	}

	fmt.Println("✅ Cleanup complete!")
	return nil
}
