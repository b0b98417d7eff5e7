package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/roach88/gdbprobe/internal/expect"
	"github.com/roach88/gdbprobe/internal/terminal"
)

// killWait bounds how long Kill waits for the process to be reaped.
const killWait = 5 * time.Second

// Process is a child running on its own pseudo-terminal.
type Process struct {
	name   string
	cmd    *exec.Cmd
	pty    *os.File
	out    *expect.Stream
	doneCh chan struct{}
	err    error
}

func startProcess(name string, cmd *exec.Cmd, tee io.Writer) (*Process, error) {
	master, err := terminal.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	var opts []expect.Option
	if tee != nil {
		opts = append(opts, expect.WithTee(tee))
	}
	p := &Process{
		name:   name,
		cmd:    cmd,
		pty:    master,
		out:    expect.NewStream(master, opts...),
		doneCh: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	defer close(p.doneCh)
	p.err = p.cmd.Wait()
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Alive reports whether the process has not been reaped yet.
func (p *Process) Alive() bool {
	select {
	case <-p.doneCh:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.doneCh
}

// ExitErr returns what Wait reported. Only meaningful after Done.
func (p *Process) ExitErr() error {
	<-p.doneCh
	return p.err
}

// Input is the terminal the process reads from.
func (p *Process) Input() io.Writer {
	return p.pty
}

// Output is the matcher over everything the process writes.
func (p *Process) Output() *expect.Stream {
	return p.out
}

// Kill sends SIGKILL to the process group and waits for the process to be
// reaped. A process that is already gone is not an error.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	pid := p.Pid()
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill %s (pid %d): %w", p.name, pid, err)
	}
	// The leader may have left its group; signal it directly as well.
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill %s (pid %d): %w", p.name, pid, err)
	}

	select {
	case <-p.doneCh:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("%s (pid %d) not reaped after %v", p.name, pid, killWait)
	}
}

// close releases the terminal. The output stream ends soon after.
func (p *Process) close() error {
	err := p.pty.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
