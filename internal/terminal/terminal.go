// Package terminal starts child processes on a pseudo-terminal.
//
// Interactive programs such as debuggers and C daemons switch to full
// buffering when their output is a pipe, which starves a reader waiting for
// a readiness marker. Running them on a PTY keeps their output line-buffered.
// The slave side is put into raw mode before the child starts so the master
// sees exactly what the child writes: no input echo, no CR/LF translation.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Open allocates a PTY pair using the Linux devpts interface.
// The caller owns both files.
func Open() (master, slave *os.File, err error) {
	master, err = os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open /dev/ptmx: %w", err)
	}

	fd := int(master.Fd())

	ptyNumber, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("get PTY number (TIOCGPTN): %w", err)
	}

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("unlock PTY slave (TIOCSPTLCK): %w", err)
	}

	slavePath := fmt.Sprintf("/dev/pts/%d", ptyNumber)
	slave, err = os.OpenFile(slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("open PTY slave %s: %w", slavePath, err)
	}

	return master, slave, nil
}

// Start runs cmd with its stdin, stdout and stderr attached to a fresh PTY
// and returns the master side. The child becomes a session leader with the
// PTY as its controlling terminal, so signalling -pid reaches everything it
// forks.
func Start(cmd *exec.Cmd) (*os.File, error) {
	master, slave, err := Open()
	if err != nil {
		return nil, err
	}
	// The parent's copy of the slave is only needed until the child has it.
	defer slave.Close()

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		master.Close()
		return nil, fmt.Errorf("set PTY raw mode: %w", err)
	}

	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0 // stdin in the child

	if err := cmd.Start(); err != nil {
		master.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	return master, nil
}

// IsClosedError reports whether err is what reading a PTY master returns
// once every slave descriptor is closed (EIO on Linux).
func IsClosedError(err error) bool {
	return errors.Is(err, unix.EIO)
}
