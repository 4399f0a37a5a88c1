package toolexec

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"time"
)

// Process is a long-running tool started with Start. Its lifetime is not
// bound to a context; the owner ends it through CloseInput or Kill.
type Process struct {
	tool  string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}

	exitCode int
	err      error
}

// Start launches name with a stdin pipe, streaming stdout and stderr into
// output. output must be safe for concurrent writes.
func Start(name string, args []string, output io.Writer, opts Options) (*Process, error) {
	tool := filepath.Base(name)
	opts.logger().Debug("start tool", "tool", tool, "op", opts.Op, "args", args)

	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &Error{Tool: tool, Op: opts.Op, ExitCode: -1, Kind: opts.Kind, Err: err}
	}

	p := &Process{
		tool:  tool,
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.exitCode = exitCode(cmd, err)
		p.err = err
		close(p.done)
	}()
	return p, nil
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code; valid after Done is closed.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Err returns the wait error; valid after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// CloseInput writes msg to stdin and closes it. Errors from a process that
// already exited are ignored.
func (p *Process) CloseInput(msg string) error {
	var writeErr error
	if msg != "" {
		_, writeErr = io.WriteString(p.stdin, msg)
	}
	closeErr := p.stdin.Close()
	if p.Exited() {
		return nil
	}
	if writeErr != nil {
		return fmt.Errorf("write stdin of %s: %w", p.tool, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close stdin of %s: %w", p.tool, closeErr)
	}
	return nil
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !p.Exited() {
		return fmt.Errorf("kill %s: %w", p.tool, err)
	}
	return nil
}
