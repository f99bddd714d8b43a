package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// sysfsGPIO is the legacy sysfs GPIO tree.
var sysfsGPIO = "/sys/class/gpio"

// Edge selects which transitions wake a Pin.
type Edge string

const (
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
	EdgeBoth    Edge = "both"
)

// ParseEdge accepts rising, falling or both. Empty means rising.
func ParseEdge(s string) (Edge, error) {
	switch Edge(s) {
	case "":
		return EdgeRising, nil
	case EdgeRising, EdgeFalling, EdgeBoth:
		return Edge(s), nil
	}
	return "", fmt.Errorf("unknown gpio edge %q", s)
}

// Pin is a sysfs GPIO input with edge interrupts.
type Pin struct {
	number int
	value  *os.File
	buf    []byte
	pollfd []unix.PollFd
}

// OpenPin exports the GPIO line, sets it as an input and enables edge
// detection.
func OpenPin(number int, edge Edge) (*Pin, error) {
	dir := filepath.Join(sysfsGPIO, fmt.Sprintf("gpio%d", number))
	if err := unix.Access(filepath.Join(dir, "value"), unix.R_OK); err != nil {
		if err := writeFile(filepath.Join(sysfsGPIO, "export"), strconv.Itoa(number)); err != nil {
			return nil, fmt.Errorf("gpio%d: export: %w", number, err)
		}
		if err := waitReadable(filepath.Join(dir, "value"), 2*time.Second); err != nil {
			return nil, err
		}
	}
	if err := writeFile(filepath.Join(dir, "direction"), "in"); err != nil {
		return nil, fmt.Errorf("gpio%d: direction: %w", number, err)
	}
	if err := writeFile(filepath.Join(dir, "edge"), string(edge)); err != nil {
		return nil, fmt.Errorf("gpio%d: edge: %w", number, err)
	}
	f, err := os.Open(filepath.Join(dir, "value"))
	if err != nil {
		return nil, fmt.Errorf("gpio%d: %w", number, err)
	}
	p := &Pin{
		number: number,
		value:  f,
		buf:    make([]byte, 1),
		pollfd: []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLPRI | unix.POLLERR}},
	}
	// the first poll returns at once; consume it
	p.read()
	return p, nil
}

// Wait blocks until an edge or the timeout. ok is false on timeout.
func (p *Pin) Wait(timeout time.Duration) (level int, ok bool, err error) {
	p.pollfd[0].Revents = 0
	n, err := unix.Poll(p.pollfd, int(timeout/time.Millisecond))
	if err == unix.EINTR {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("gpio%d: poll: %w", p.number, err)
	}
	if n == 0 {
		return 0, false, nil
	}
	level, err = p.read()
	return level, err == nil, err
}

func (p *Pin) read() (int, error) {
	if _, err := p.value.ReadAt(p.buf, 0); err != nil {
		return 0, fmt.Errorf("gpio%d: read: %w", p.number, err)
	}
	switch p.buf[0] {
	case '0':
		return 0, nil
	case '1':
		return 1, nil
	}
	return 0, fmt.Errorf("gpio%d: unknown value %q", p.number, p.buf)
}

// Close releases the value file. The line stays exported.
func (p *Pin) Close() error {
	return p.value.Close()
}

func writeFile(name, s string) error {
	f, err := os.OpenFile(name, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// waitReadable waits for udev to fix permissions on a fresh export.
func waitReadable(name string, limit time.Duration) error {
	for waited := time.Duration(0); waited < limit; waited += time.Millisecond {
		if unix.Access(name, unix.R_OK) == nil {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("%s: not readable", name)
}
