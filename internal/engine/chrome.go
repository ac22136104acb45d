package engine

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/webbridge/webbridge/internal/toolerr"
)

// BrowserKind identifies the type of Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserBrave    BrowserKind = "brave"
	BrowserEdge     BrowserKind = "edge"
	BrowserChromium BrowserKind = "chromium"
	BrowserCustom   BrowserKind = "custom"
)

// Executable is a found browser binary.
type Executable struct {
	Kind BrowserKind
	Path string
}

// FindExecutable locates a Chromium-based browser. A non-empty customPath
// is used verbatim and must exist.
func FindExecutable(customPath string) (*Executable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, toolerr.New(toolerr.KindEngineLaunch, "browser executable not found: %s", customPath)
		}
		return &Executable{Kind: BrowserCustom, Path: customPath}, nil
	}

	var exe *Executable
	switch runtime.GOOS {
	case "darwin":
		exe = findMac()
	case "linux":
		exe = findLinux()
	case "windows":
		exe = findWindows()
	default:
		return nil, toolerr.New(toolerr.KindEngineLaunch, "unsupported platform: %s", runtime.GOOS)
	}

	if exe == nil {
		return nil, toolerr.New(toolerr.KindEngineLaunch, "no supported browser found (Chrome/Brave/Edge/Chromium)")
	}
	return exe, nil
}

type candidate struct {
	kind BrowserKind
	path string
}

func findMac() *Executable {
	home := os.Getenv("HOME")
	candidates := []candidate{
		{BrowserChrome, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		{BrowserChrome, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
		{BrowserBrave, "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
		{BrowserEdge, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
		{BrowserChromium, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
	}
	return firstExisting(candidates)
}

func findLinux() *Executable {
	candidates := []candidate{
		{BrowserChrome, "/usr/bin/google-chrome"},
		{BrowserChrome, "/usr/bin/google-chrome-stable"},
		{BrowserBrave, "/usr/bin/brave-browser"},
		{BrowserBrave, "/snap/bin/brave"},
		{BrowserEdge, "/usr/bin/microsoft-edge"},
		{BrowserChromium, "/usr/bin/chromium"},
		{BrowserChromium, "/usr/bin/chromium-browser"},
		{BrowserChromium, "/snap/bin/chromium"},
	}
	return firstExisting(candidates)
}

func findWindows() *Executable {
	localAppData := os.Getenv("LOCALAPPDATA")
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}

	var candidates []candidate
	if localAppData != "" {
		candidates = append(candidates,
			candidate{BrowserChrome, filepath.Join(localAppData, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{BrowserBrave, filepath.Join(localAppData, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
			candidate{BrowserEdge, filepath.Join(localAppData, "Microsoft", "Edge", "Application", "msedge.exe")},
		)
	}
	candidates = append(candidates,
		candidate{BrowserChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
		candidate{BrowserBrave, filepath.Join(programFiles, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
		candidate{BrowserEdge, filepath.Join(programFiles, "Microsoft", "Edge", "Application", "msedge.exe")},
	)
	return firstExisting(candidates)
}

func firstExisting(candidates []candidate) *Executable {
	for _, c := range candidates {
		if fileExists(c.path) {
			return &Executable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
