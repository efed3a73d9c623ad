package auth

import (
	"fmt"
	"os/exec"
	"runtime"
)

type BrowserOpener interface {
	Open(url string) error
}

type BrowserOpenerFunc func(url string) error

func (f BrowserOpenerFunc) Open(url string) error {
	return f(url)
}

// SystemBrowser launches the platform URL handler.
type SystemBrowser struct{}

func (SystemBrowser) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("auth: open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
