package main

import (
	"fmt"
	"os"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/logging"

	log "github.com/sirupsen/logrus"
)

func main() {
	// stdout is reserved for command output
	log.SetOutput(os.Stderr)
	level := os.Getenv("PROGRESSCTL_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	log.SetLevel(logging.GetLevel(level))

	if err := newRootCmd(calendar.SystemClock{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
