package main

import (
	"fmt"
	"os"

	serialhelper "github.com/TheCacophonyProject/ups-monitor/internal/serial-helper"
	monitor "github.com/TheCacophonyProject/ups-monitor/internal/ups-monitor"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

var version = "<not set>"

func runMain() error {
	if len(os.Args) < 2 {
		log.Info("Usage: ups-monitor <subcommand> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "monitor":
		err = monitor.Run(args, version)
	case "serial-helper":
		err = serialhelper.Run(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
