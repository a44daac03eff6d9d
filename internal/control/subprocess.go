package control

import (
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// SSHProcess owns the ssh child process that carries the control channel:
// the child is killed when the wrapper is closed, and its stdout/stdin
// form the two unidirectional control byte streams.
type SSHProcess struct {
	Channel *Channel

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// SpawnSSHOptions configures the ssh argv built by SpawnSSH:
// "ssh -4|-6 <ssh_options...> <hostname> qcp --server".
type SpawnSSHOptions struct {
	SSHBinary     string
	SSHOptions    []string
	Hostname      string
	AddressFamily string // "4", "6", or "" for unset
	Quiet         bool   // when true, stderr is inherited so credential prompts reach the tty
}

// SpawnSSH launches the ssh control-channel subprocess and wraps its
// stdin/stdout as a Channel.
func SpawnSSH(opts SpawnSSHOptions) (*SSHProcess, error) {
	args := []string{}
	if opts.AddressFamily == "4" {
		args = append(args, "-4")
	} else if opts.AddressFamily == "6" {
		args = append(args, "-6")
	}
	args = append(args, opts.SSHOptions...)
	args = append(args, opts.Hostname, "qcp", "--server")

	binary := opts.SSHBinary
	if binary == "" {
		binary = "ssh"
	}
	cmd := exec.Command(binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "control: creating ssh stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "control: creating ssh stdout pipe")
	}

	if opts.Quiet {
		cmd.Stderr = os.Stderr
	} else {
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, errors.Wrap(err, "control: creating ssh stderr pipe")
		}
		go drainStderr(stderr)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "control: starting ssh")
	}

	return &SSHProcess{
		Channel: NewChannel(stdout, stdin),
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

// drainStderr forwards the ssh child's stderr to this process's own
// stderr so the child never blocks on a full stderr buffer; any richer
// progress display sits above this.
func drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			os.Stderr.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Close kills the ssh child (best-effort) and waits for it to be reaped.
func (p *SSHProcess) Close() error {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}
