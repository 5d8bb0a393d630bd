// Package bus is the local control socket of a running relay: a unix socket
// taking one-byte commands and answering with one line.
package bus

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const SockName = "control.sock"
const PidName = "speechrelay.pid"
const ProtoVer = "1"

// Commands understood by the daemon
const (
	CmdStatus       = 's'
	CmdReload       = 'r'
	CmdStopSessions = 'x'
	CmdVersion      = 'v'
	CmdQuit         = 'q'
)

// Paths locates the socket and pid file. The zero value uses the user cache
// directory.
type Paths struct {
	Dir string
}

// ~/.cache/speechrelay
func (p Paths) dir() (string, error) {
	if p.Dir != "" {
		return p.Dir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "speechrelay"), nil
}

// ~/.cache/speechrelay/control.sock
func (p Paths) SockPath() (string, error) {
	dir, err := p.dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SockName), nil
}

// ~/.cache/speechrelay/speechrelay.pid
func (p Paths) PidPath() (string, error) {
	dir, err := p.dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PidName), nil
}

func (p Paths) Listen() (net.Listener, error) {
	sp, err := p.SockPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(sp), 0o700); err != nil {
		return nil, err
	}
	_ = os.Remove(sp) // stale socket from last run
	return net.Listen("unix", sp)
}

func (p Paths) Dial() (net.Conn, error) {
	sp, err := p.SockPath()
	if err != nil {
		return nil, err
	}
	return net.DialTimeout("unix", sp, 2*time.Second)
}

// SendCommand sends cmd and returns the reply line without its newline.
func (p Paths) SendCommand(cmd byte) (string, error) {
	c, err := p.Dial()
	if err != nil {
		return "", err
	}
	defer c.Close()

	_ = c.SetDeadline(time.Now().Add(30 * time.Second))
	if _, err := c.Write([]byte{cmd, '\n'}); err != nil {
		return "", err
	}

	resp, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(resp, "\n"), nil
}

// CheckExistingDaemon fails when the pid file names a live process.
func (p Paths) CheckExistingDaemon() error {
	pidPath, err := p.PidPath()
	if err != nil {
		return err
	}

	pidData, err := os.ReadFile(pidPath)
	if os.IsNotExist(err) {
		return nil // no existing daemon
	}
	if err != nil {
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return nil // invalid pid file, assume stale
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	// signal 0 only checks that the process exists
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil
	}

	return fmt.Errorf("daemon already running with PID %d", pid)
}

func (p Paths) CreatePidFile() error {
	pidPath, err := p.PidPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func (p Paths) RemovePidFile() error {
	pidPath, err := p.PidPath()
	if err != nil {
		return err
	}
	return os.Remove(pidPath)
}

// Reply is a parsed answer line: "OK msg", "STATUS k=v ..." or "ERR msg".
type Reply struct {
	Kind   string
	Text   string
	Fields map[string]string
}

func (r Reply) Err() error {
	if r.Kind == "ERR" {
		return fmt.Errorf("daemon: %s", r.Text)
	}
	return nil
}

func ParseReply(line string) Reply {
	kind, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	r := Reply{Kind: kind, Text: rest, Fields: map[string]string{}}
	for _, f := range strings.Fields(rest) {
		if k, v, ok := strings.Cut(f, "="); ok {
			r.Fields[k] = v
		}
	}
	return r
}
