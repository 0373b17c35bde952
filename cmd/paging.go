package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// withPaging calls f with a writer to the pager, or to stdout if pager is
// empty.
func withPaging(pager string, f func(io.WriteCloser) error) error {
	if pager == "" {
		return f(nopCloser{os.Stdout})
	}
	cmd := exec.Command(pager)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	w, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to make a pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pager: %w", err)
	}
	writeErr := f(w)
	// the pager exits on its own once stdin is closed or the user quits.
	_ = w.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("error running pager: %w", err)
	}
	if errors.Is(writeErr, os.ErrClosed) {
		return nil
	}
	return writeErr
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return !os.IsNotExist(err)
}

func maybePager() string {
	pager := os.Getenv("PAGER")
	if pager != "" {
		return pager
	}
	if fileExists("/usr/bin/less") {
		return "/usr/bin/less"
	}
	return ""
}
