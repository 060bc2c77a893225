package actor

import (
	"context"
	"sync"
)

// stoppable defines an interface for components that can be stopped. This is
// unexported as it's an internal detail of ActorSystem for managing actors
// that need to be shut down.
type stoppable interface {
	Stop()
}

// SystemConfig holds configuration parameters for the ActorSystem.
type SystemConfig struct {
	// MailboxCapacity is the default capacity for actor mailboxes.
	MailboxCapacity int
}

// DefaultConfig returns a default configuration for the ActorSystem.
func DefaultConfig() SystemConfig {
	return SystemConfig{
		MailboxCapacity: 100,
	}
}

// ActorSystem manages the lifecycle of a set of actors and handles their
// graceful shutdown. Actors register with the system when spawned; Shutdown
// stops them all and waits for their goroutines to exit.
type ActorSystem struct {
	// actors stores all actors managed by the system, keyed by their ID.
	actors map[string]stoppable

	// config holds the system-wide configuration.
	config SystemConfig

	// mu protects the actors map.
	mu sync.RWMutex

	// ctx is the main context for the actor system.
	ctx context.Context

	// cancel cancels the main system context.
	cancel context.CancelFunc

	// actorWg tracks running actor goroutines for deterministic shutdown.
	actorWg sync.WaitGroup
}

// NewActorSystem creates a new actor system using the default configuration.
func NewActorSystem() *ActorSystem {
	return NewActorSystemWithConfig(DefaultConfig())
}

// NewActorSystemWithConfig creates a new actor system with a custom
// configuration.
func NewActorSystemWithConfig(config SystemConfig) *ActorSystem {
	ctx, cancel := context.WithCancel(context.Background())

	return &ActorSystem{
		config: config,
		actors: make(map[string]stoppable),
		ctx:    ctx,
		cancel: cancel,
	}
}

// newStoppedActorRef creates a stopped actor reference with the given ID.
// This is used to return a safe non-nil reference when actor creation fails,
// ensuring any calls to the returned ref will fail with ErrActorTerminated
// rather than causing a nil pointer panic.
func newStoppedActorRef[M Message, R any](id string) ActorRef[M, R] {
	cfg := ActorConfig[M, R]{ID: id}
	actor := NewActor(cfg)
	actor.Stop()
	return actor.Ref()
}

// SpawnOption is a functional option for configuring actor spawning.
type SpawnOption func(*spawnConfig)

// spawnConfig holds optional configuration for spawned actors.
type spawnConfig struct {
	// mailboxSize overrides the system default mailbox capacity.
	mailboxSize int
}

// WithMailboxSize sets the mailbox capacity for the spawned actor. This is
// the lever for shaping backpressure: a capacity-1 mailbox means a second
// concurrent Ask blocks until the first message has been dequeued.
func WithMailboxSize(size int) SpawnOption {
	return func(cfg *spawnConfig) {
		cfg.mailboxSize = size
	}
}

// SpawnWithSystem creates an actor with the given ID and behavior within the
// specified ActorSystem, starts it, adds it to the system's management, and
// returns its ActorRef. This is a package-level generic function because
// methods cannot have their own type parameters in Go.
func SpawnWithSystem[M Message, R any](as *ActorSystem, id string,
	behavior ActorBehavior[M, R], opts ...SpawnOption) ActorRef[M, R] {

	if as.ctx.Err() != nil {
		// The system is already shutting down. To avoid returning nil
		// and causing a panic, return a reference to a dummy actor
		// that is already stopped, so any calls fail with
		// ErrActorTerminated.
		return newStoppedActorRef[M, R](id)
	}

	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	mailboxSize := cfg.mailboxSize
	if mailboxSize <= 0 {
		mailboxSize = as.config.MailboxCapacity
	}

	actorInstance := NewActor(ActorConfig[M, R]{
		ID:          id,
		Behavior:    behavior,
		MailboxSize: mailboxSize,
		Wg:          &as.actorWg,
	})
	actorInstance.Start()

	as.mu.Lock()
	as.actors[actorInstance.id] = actorInstance
	as.mu.Unlock()

	log.DebugS(as.ctx, "Actor registered with system", "actor_id", id)

	return actorInstance.Ref()
}

// StopAndRemoveActor stops a specific actor by its ID and removes it from the
// ActorSystem's management. It returns true if the actor was found and
// stopped, false otherwise.
func (as *ActorSystem) StopAndRemoveActor(id string) bool {
	as.mu.Lock()
	defer as.mu.Unlock()

	actorToStop, exists := as.actors[id]
	if !exists {
		return false
	}

	actorToStop.Stop()
	delete(as.actors, id)

	return true
}

// Shutdown gracefully stops the actor system and waits for all actors to
// finish processing. It iterates through all managed actors, calls their Stop
// method, and then blocks until all actor goroutines have exited or the
// provided context expires. This method is safe for concurrent use.
func (as *ActorSystem) Shutdown(ctx context.Context) error {
	// Cancel the main system context first to prevent new actor
	// registrations. Any SpawnWithSystem call that occurs after this
	// point will see as.ctx.Err() != nil and return a dummy stopped
	// actor. This ordering prevents a race where a new actor could be
	// registered and increment the WaitGroup after we snapshot but
	// before we wait.
	as.cancel()

	// Snapshot the actors to stop so we don't hold the lock while
	// calling Stop() on each.
	var actorsToStop []stoppable
	as.mu.RLock()
	for _, actor := range as.actors {
		actorsToStop = append(actorsToStop, actor)
	}
	as.mu.RUnlock()

	log.InfoS(ctx, "Actor system shutting down",
		"num_actors", len(actorsToStop))

	// Actor.Stop() is non-blocking: it cancels the actor's internal
	// context, leading to the termination of its processing goroutine.
	for _, actor := range actorsToStop {
		actor.Stop()
	}

	as.mu.Lock()
	as.actors = nil
	as.mu.Unlock()

	// Wait for all actor goroutines to exit, while respecting the
	// context deadline. If the context times out, the waiting goroutine
	// continues running until the WaitGroup reaches zero; shutdown
	// timeouts indicate abnormal conditions and the single goroutine
	// overhead is negligible compared to potentially leaked actors.
	done := make(chan struct{})
	go func() {
		as.actorWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.InfoS(ctx, "Actor system shutdown completed")
		return nil

	case <-ctx.Done():
		log.ErrorS(ctx, "Actor system shutdown incomplete, "+
			"some actors may have leaked", ctx.Err())

		return ctx.Err()
	}
}
