package gerrit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/gerritbot/internal/actorutil"
	"github.com/roasbeef/gerritbot/internal/baselib/actor"
)

// CommandMsg asks the runner to execute a single command line on the shared
// connection.
type CommandMsg struct {
	actor.BaseMessage

	// Command is the complete command line to run, e.g. a gerrit query.
	Command string

	// RequestID ties log lines of one command together.
	RequestID string
}

// MessageType returns the type name of the message.
func (m *CommandMsg) MessageType() string {
	return "gerrit.CommandMsg"
}

// CommandRunner serializes ad-hoc command execution over a single shared
// connection. Any number of goroutines can submit commands concurrently; the
// runner executes them strictly one at a time and hands each caller its own
// output. A mailbox of capacity one keeps at most a single command queued
// behind the one in flight, so submitters feel backpressure instead of
// growing a queue.
type CommandRunner struct {
	conn *Conn
	ref  actor.ActorRef[*CommandMsg, string]

	// healthy tracks whether the connection is believed usable. It is
	// only touched from inside the actor, which is single threaded.
	healthy bool
}

// NewCommandRunner wraps a connection in a runner actor registered on the
// given system. The runner takes over the connection; nothing else should
// open sessions on it afterwards.
func NewCommandRunner(system *actor.ActorSystem, conn *Conn) *CommandRunner {
	runner := &CommandRunner{
		conn:    conn,
		healthy: true,
	}

	runner.ref = actor.SpawnWithSystem[*CommandMsg, string](
		system, "gerrit-command-runner", runner,
		actor.WithMailboxSize(1),
	)

	return runner
}

// Receive implements the actor.ActorBehavior interface. It runs exactly one
// command per message, reconnecting first whenever the connection was marked
// unhealthy by a previous failure.
func (r *CommandRunner) Receive(ctx context.Context,
	msg *CommandMsg) fn.Result[string] {

	for {
		if !r.healthy {
			log.Infof("Connection unhealthy, reconnecting before "+
				"command request_id=%s", msg.RequestID)

			if err := r.conn.ReconnectRepeatedly(ctx); err != nil {
				return fn.Err[string](err)
			}
			r.healthy = true
		}

		sess, err := r.conn.OpenSession()
		if err != nil {
			// A session that cannot even open means the transport
			// is gone. Reconnect and retry the same command.
			log.Warnf("Unable to open session, reconnecting "+
				"request_id=%s: %v", msg.RequestID, err)

			r.healthy = false
			if ctx.Err() != nil {
				return fn.Err[string](ctx.Err())
			}

			continue
		}

		start := time.Now()
		output, err := execute(sess, msg.Command)
		if err != nil {
			// The command made it onto the wire and failed there.
			// The caller gets the error; the next command starts
			// from a fresh connection.
			r.healthy = false
			return fn.Err[string](err)
		}

		log.Debugf("Command finished request_id=%s duration=%v",
			msg.RequestID, time.Since(start))

		return fn.Ok(output)
	}
}

// OnStop implements the actor.Stoppable interface, closing the connection
// when the runner shuts down.
func (r *CommandRunner) OnStop(_ context.Context) error {
	return r.conn.Close()
}

// Submit enqueues a command and returns a future for its output. When the
// runner is busy and its single queue slot is taken, Submit blocks until the
// slot frees up or the context ends.
func (r *CommandRunner) Submit(ctx context.Context,
	command string) actor.Future[string] {

	return r.ref.Ask(ctx, &CommandMsg{
		Command:   command,
		RequestID: uuid.NewString(),
	})
}

// Run submits a command and waits for its output.
func (r *CommandRunner) Run(ctx context.Context, command string) (string,
	error) {

	return actorutil.AskAwait(ctx, r.ref, &CommandMsg{
		Command:   command,
		RequestID: uuid.NewString(),
	})
}
