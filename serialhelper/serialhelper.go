package serialhelper

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

var log = logrus.New()

// SetLogger makes the package log through l.
func SetLogger(l *logrus.Logger) {
	log = l
}

// ErrPortNotFound is returned when no serial port has a friendly name with the
// requested prefix.
var ErrPortNotFound = errors.New("serial port not found")

var (
	cmdlineFile = "/boot/firmware/cmdline.txt"
	listPorts   = enumerator.GetDetailedPortsList
	lockHolder  = getLockingProcess
	sleepFn     = time.Sleep
)

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

func NewSerialUnavailableError(msg string) error {
	return &SerialUnavailableError{msg: msg}
}

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Path         string
	FriendlyName string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// ListPorts returns every serial port the OS reports. The friendly name is the
// USB product string when there is one, otherwise the port path.
func ListPorts() ([]PortInfo, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		name := d.Product
		if name == "" {
			name = d.Name
		}
		ports = append(ports, PortInfo{
			Path:         d.Name,
			FriendlyName: name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}

// FindPort returns the path of the first port whose friendly name starts with
// prefix.
func FindPort(prefix string) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if strings.HasPrefix(p.FriendlyName, prefix) {
			return p.Path, nil
		}
	}
	return "", fmt.Errorf("%s: %w", prefix, ErrPortNotFound)
}

// SerialInUseFromTerminal reports whether the kernel console is configured on
// the port at path.
func SerialInUseFromTerminal(path string) bool {
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		log.Debugf("Error when reading %s: %s", cmdlineFile, err)
		return false
	}
	return strings.Contains(string(b), "console="+filepath.Base(path))
}

// GetSerial will try to get a file lock on the serial port at path.
// If the lock is held by another process it retries up to retries times,
// waiting wait between attempts.
// defer ReleaseSerial(serialFile) should be called to release the lock and close the file.
func GetSerial(path string, retries int, wait time.Duration) (*os.File, error) {
	if SerialInUseFromTerminal(path) {
		return nil, NewSerialUnavailableError(fmt.Sprintf("%s is in use by the terminal console", path))
	}

	serialFile, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	lockAcquired := false
	defer func() {
		if !lockAcquired {
			serialFile.Close()
		}
	}()

	i := retries
	for {
		err = syscall.Flock(int(serialFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			lockAcquired = true
			return serialFile, nil
		}

		var errno syscall.Errno
		if !errors.As(err, &errno) || errno != syscall.EWOULDBLOCK {
			return nil, err
		}

		process, err := lockHolder(path)
		if err != nil {
			log.Debugf("Error checking locking process: %v", err)
		} else if process != "" {
			log.Infof("%s is locked by process: %s", path, strings.TrimSpace(process))
		}

		if i <= 0 {
			return nil, NewSerialUnavailableError(fmt.Sprintf("failed to get lock on %s, might be in use by other process", path))
		}
		log.Infof("%s is locked by another process. Retrying %d more times in %s...", path, i, wait)
		sleepFn(wait)
		i--
	}
}

func getLockingProcess(serialPath string) (string, error) {
	cmd := exec.Command("fuser", serialPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && exitError.ExitCode() == 1 {
			// Exit code 1 from `fuser` means no process is using the file
			return "", nil
		}
		return "", fmt.Errorf("failed to execute fuser: %w", err)
	}
	return output.String(), nil
}

func ReleaseSerial(serialFile *os.File) error {
	unlockErr := syscall.Flock(int(serialFile.Fd()), syscall.LOCK_UN)
	closeErr := serialFile.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}

// Open opens the port at path for blocking reads.
func Open(path string, baud int) (*serial.Port, error) {
	c := &serial.Config{Name: path, Baud: baud}
	return serial.OpenPort(c)
}

// Port is an open, locked serial port.
type Port struct {
	path     string
	lockFile *os.File
	port     *serial.Port
}

// Connect finds the port whose friendly name starts with prefix, locks it
// and opens it at baud.
func Connect(prefix string, baud, retries int, wait time.Duration) (*Port, error) {
	path, err := FindPort(prefix)
	if err != nil {
		return nil, err
	}
	lockFile, err := GetSerial(path, retries, wait)
	if err != nil {
		return nil, err
	}
	port, err := Open(path, baud)
	if err != nil {
		ReleaseSerial(lockFile)
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Port{path: path, lockFile: lockFile, port: port}, nil
}

func (p *Port) Path() string {
	return p.path
}

func (p *Port) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Close closes the port and releases the lock.
func (p *Port) Close() error {
	portErr := p.port.Close()
	lockErr := ReleaseSerial(p.lockFile)
	if portErr != nil {
		return portErr
	}
	return lockErr
}
