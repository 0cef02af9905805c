package capability

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"wsproxy/internal/session"
	"wsproxy/util"
)

// Exec starts one child process per session with its stdin fed from
// the client's messages and its stdout/stderr sent back as binary
// messages.  Exactly one of Program (-e) or Command (-c) must be set.
type Exec struct {
	Program string // run directly
	Command string // run through the system shell
	Logger  *util.Logger
}

// Handle runs the child until it exits, the client goes away or ctx is
// cancelled, whichever comes first.
func (e *Exec) Handle(ctx context.Context, conn *session.Conn, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd, err := e.command(ctx)
	if err != nil {
		return err
	}
	cmd.Env = append(cmd.Environ(), "WSPROXY_PATH="+path, "WSPROXY_REMOTE="+conn.RemoteAddr().String())
	cmd.Stdout = conn
	cmd.Stderr = conn

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	e.Logger.Debug("conn#%d: exec %s", conn.ID(), cmd.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}

	// Client → child.  EOF from the client closes the child's stdin;
	// the child then decides when to exit.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		buf := util.GetBuf()
		defer util.PutBuf(buf)
		for {
			n, rerr := conn.Read(*buf)
			if n > 0 {
				if _, werr := stdin.Write((*buf)[:n]); werr != nil {
					break
				}
			}
			if rerr != nil {
				if !util.IsHarmless(rerr) {
					cancel() // client vanished: stop the child
				}
				break
			}
		}
		stdin.Close() //nolint:errcheck
	}()

	err = cmd.Wait()

	// The reader must be gone before the handler returns.
	conn.CloseRead() //nolint:errcheck
	<-readerDone

	if err != nil && ctx.Err() != nil {
		return nil // killed because the session ended
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.Logger.Verbose("conn#%d: %s exited with %d", conn.ID(), cmd.Path, exitErr.ExitCode())
		return nil
	}
	return err
}

func (e *Exec) command(ctx context.Context) (*exec.Cmd, error) {
	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			return exec.CommandContext(ctx, "cmd.exe", "/C", e.Command), nil
		}
		return exec.CommandContext(ctx, "/bin/sh", "-c", e.Command), nil
	case e.Program != "":
		return exec.CommandContext(ctx, e.Program), nil
	default:
		return nil, errors.New("exec: no program or command configured")
	}
}
