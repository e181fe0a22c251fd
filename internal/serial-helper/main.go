package serialhelper

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/TheCacophonyProject/ups-monitor/serialhelper"
	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

var (
	version = "<not set>"
	log     = logrus.New()
)

type Args struct {
	List     bool   `arg:"--list" help:"List serial ports and their friendly names."`
	Device   string `arg:"--device" default:"Arduino Leonardo" help:"Friendly name prefix of the port to lock."`
	Hold     int    `arg:"--hold" default:"20" help:"Seconds to hold the port lock for."`
	Retries  int    `arg:"--retries" default:"3" help:"Times to retry if the port is locked."`
	LogLevel string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func procArgs(input []string) (Args, error) {
	var args Args

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	level, err := logrus.ParseLevel(args.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		log.Warnf("Unknown log level %q, defaulting to info", args.LogLevel)
	}
	log.SetLevel(level)
	serialhelper.SetLogger(log)
	log.Info("Running version: ", version)

	if args.List {
		return listPorts()
	}
	return holdPort(args)
}

func listPorts() error {
	ports, err := serialhelper.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		log.Info("No serial ports found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tNAME\tUSB ID\tSERIAL")
	for _, p := range ports {
		usbID := ""
		if p.IsUSB {
			usbID = strings.ToLower(p.VID + ":" + p.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Path, p.FriendlyName, usbID, p.SerialNumber)
	}
	return w.Flush()
}

// holdPort takes the lock on the UPS port so the monitor's handling of a busy
// port can be checked.
func holdPort(args Args) error {
	path, err := serialhelper.FindPort(args.Device)
	if err != nil {
		return err
	}
	log.Infof("Locking %s (%s)", path, args.Device)
	serialFile, err := serialhelper.GetSerial(path, args.Retries, time.Second)
	if err != nil {
		return err
	}
	log.Info("Serial acquired")

	time.Sleep(time.Duration(args.Hold) * time.Second)
	log.Info("Releasing serial")
	return serialhelper.ReleaseSerial(serialFile)
}
