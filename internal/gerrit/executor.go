package gerrit

import (
	"errors"
	"io"

	"golang.org/x/crypto/ssh"
)

// execSession is the slice of *ssh.Session the executor needs, pulled out so
// tests can stand in for a real channel.
type execSession interface {
	// StdoutPipe returns a reader for the remote command's stdout.
	StdoutPipe() (io.Reader, error)

	// Start runs cmd on the remote side without waiting for it.
	Start(cmd string) error

	// Wait blocks until the remote command finishes and reports its exit
	// status.
	Wait() error

	// Close tears down the session channel.
	Close() error
}

// execute runs a single command on a session and returns its complete
// standard output. The session is consumed either way: one session, one
// command. The three ways a command can fail stay distinguishable through
// the returned error: the exec request itself, reading output, and the
// remote exit status.
func execute(sess execSession, command string) (string, error) {
	defer func() {
		_ = sess.Close()
	}()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return "", &ExecError{
			Phase:   "exec",
			Command: command,
			Err:     err,
		}
	}

	if err := sess.Start(command); err != nil {
		return "", &ExecError{
			Phase:   "exec",
			Command: command,
			Err:     err,
		}
	}

	// Read the full output before collecting the exit status, otherwise
	// Wait can deadlock on a full stdout buffer.
	outBytes, err := io.ReadAll(stdout)
	if err != nil {
		return "", &ExecError{
			Phase:   "read",
			Command: command,
			Err:     err,
		}
	}

	if err := sess.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitStatusError{
				Command: command,
				Status:  exitErr.ExitStatus(),
			}
		}

		return "", &ExecError{
			Phase:   "close",
			Command: command,
			Err:     err,
		}
	}

	return string(outBytes), nil
}
