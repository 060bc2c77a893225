package gerrit

import (
	"context"
	"errors"
	"fmt"
	"math"
	prand "math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// defaultDialTimeout bounds the TCP dial of a single connection
	// attempt.
	defaultDialTimeout = 10 * time.Second

	// defaultInitialRetryDelay is the base delay of the first reconnect
	// attempt.
	defaultInitialRetryDelay = time.Second

	// defaultMaxRetryDelay caps the exponential reconnect backoff.
	defaultMaxRetryDelay = 2 * time.Minute
)

// RetryPolicy controls the backoff schedule of ReconnectRepeatedly.
type RetryPolicy struct {
	// InitialDelay is the base delay of the first attempt. Subsequent
	// attempts double it.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// MaxAttempts bounds the number of reconnect attempts. A value of
	// zero means attempts continue indefinitely.
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used when a config leaves the retry
// policy unset: unlimited attempts with a capped exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: defaultInitialRetryDelay,
		MaxDelay:     defaultMaxRetryDelay,
	}
}

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max value.
func (p RetryPolicy) randRetryDelay(attempt int) time.Duration {
	halfDelay := p.InitialDelay / 2
	randDelay := prand.Int63n(int64(p.InitialDelay)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	initialDelay := halfDelay + time.Duration(randDelay)

	// If this is the first attempt, we just return the initial delay.
	if attempt == 0 {
		return initialDelay
	}

	// For each subsequent delay, we double the initial delay. This still
	// gives us a somewhat random delay, but it still increases with each
	// attempt. If we double something n times, that's the same as
	// multiplying the value with 2^n. We limit the power to 32 to avoid
	// overflows.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	//nolint:durationcheck
	actualDelay := initialDelay * factor

	// Cap the delay at the maximum configured value.
	if actualDelay > p.MaxDelay {
		return p.MaxDelay
	}

	return actualDelay
}

// ConnConfig packages everything needed to establish an authenticated
// connection to a Gerrit SSH endpoint.
type ConnConfig struct {
	// Addr is the host:port of the Gerrit SSH API.
	Addr string

	// Username is the account to authenticate as.
	Username string

	// PrivKeyPath is the path of the private key file on disk. The
	// matching public key is expected to live next to it with a .pub
	// extension.
	PrivKeyPath string

	// DialTimeout bounds the TCP dial. Zero means a default is used.
	DialTimeout time.Duration

	// HostKeyCallback verifies the server's host key. If nil, host keys
	// are accepted without verification.
	HostKeyCallback ssh.HostKeyCallback

	// RetryPolicy governs ReconnectRepeatedly. The zero value selects
	// DefaultRetryPolicy.
	RetryPolicy RetryPolicy
}

// normalize fills in defaults for fields the caller left at their zero value.
func (c ConnConfig) normalize() ConnConfig {
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if c.RetryPolicy.InitialDelay == 0 {
		c.RetryPolicy = DefaultRetryPolicy()
	}

	return c
}

// PubKeyPath derives the public key path that belongs to a private key path:
// the same file name with the extension replaced by .pub.
func PubKeyPath(privKeyPath string) string {
	ext := filepath.Ext(privKeyPath)
	return strings.TrimSuffix(privKeyPath, ext) + ".pub"
}

// Conn is an authenticated SSH connection to a Gerrit server. A Conn is not
// safe for concurrent use; callers that need to share one funnel their
// commands through a CommandRunner instead.
type Conn struct {
	cfg    ConnConfig
	client *ssh.Client
}

// Connect establishes a fresh authenticated connection. Failures are wrapped
// in a ConnectError that records which establishment stage went wrong.
func Connect(cfg ConnConfig) (*Conn, error) {
	cfg = cfg.normalize()

	conn := &Conn{cfg: cfg}
	if err := conn.dial(); err != nil {
		return nil, err
	}

	return conn, nil
}

// dial performs one complete connection attempt, replacing the underlying
// client on success.
func (c *Conn) dial() error {
	signer, err := loadSigner(c.cfg.PrivKeyPath)
	if err != nil {
		return &ConnectError{
			Stage: StageKeyLoad,
			Addr:  c.cfg.Addr,
			Err:   err,
		}
	}

	log.Debugf("Connecting to %s as %s, private key %s, public key %s",
		c.cfg.Addr, c.cfg.Username, c.cfg.PrivKeyPath,
		PubKeyPath(c.cfg.PrivKeyPath))

	tcpConn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.DialTimeout)
	if err != nil {
		return &ConnectError{
			Stage: StageTransport,
			Addr:  c.cfg.Addr,
			Err:   err,
		}
	}

	sshCfg := &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: c.cfg.HostKeyCallback,
		Timeout:         c.cfg.DialTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(
		tcpConn, c.cfg.Addr, sshCfg,
	)
	if err != nil {
		_ = tcpConn.Close()

		// The handshake and authentication happen in one step, so we
		// classify after the fact.
		stage := StageHandshake
		if strings.Contains(err.Error(), "unable to authenticate") {
			stage = StageAuth
		}

		return &ConnectError{
			Stage: stage,
			Addr:  c.cfg.Addr,
			Err:   err,
		}
	}

	// Tear down any previous transport before swapping in the new one.
	if c.client != nil {
		_ = c.client.Close()
	}
	c.client = ssh.NewClient(sshConn, chans, reqs)

	log.Infof("Connected to %s as %s", c.cfg.Addr, c.cfg.Username)

	return nil
}

// Reconnect drops the current transport and performs a single fresh
// connection attempt with the stored credentials.
func (c *Conn) Reconnect() error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	return c.dial()
}

// ReconnectRepeatedly reconnects with randomized exponential backoff until an
// attempt succeeds, the context is canceled, or the policy's attempt budget
// runs out.
func (c *Conn) ReconnectRepeatedly(ctx context.Context) error {
	policy := c.cfg.RetryPolicy

	var lastErr error
	for attempt := 0; ; attempt++ {
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return fmt.Errorf("reconnect attempts exhausted "+
				"after %d tries: %w", attempt, lastErr)
		}

		lastErr = c.Reconnect()
		if lastErr == nil {
			return nil
		}

		delay := policy.randRetryDelay(attempt)

		log.Warnf("Reconnect to %s failed (attempt %d), retrying "+
			"in %v: %v", c.cfg.Addr, attempt+1, delay, lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OpenSession opens a new logical channel on the current transport. A healthy
// connection can carry many sessions over its lifetime, but each session runs
// exactly one command.
func (c *Conn) OpenSession() (*ssh.Session, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}

	return c.client.NewSession()
}

// Close tears down the underlying transport.
func (c *Conn) Close() error {
	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil

	// The transport reports EOF when the remote side already went away,
	// which is not worth surfacing on an explicit close.
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// Addr returns the remote address this connection is configured for.
func (c *Conn) Addr() string {
	return c.cfg.Addr
}

// loadSigner reads and parses the private key used for authentication.
func loadSigner(path string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	return signer, nil
}
