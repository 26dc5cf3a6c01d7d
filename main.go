package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jacobedelsonuw/visionboard-ai/core"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(core.ExitCodeError)
	}
}

// exitError carries a specific process exit code out of a command, such as
// 130 after an interrupted serve.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
