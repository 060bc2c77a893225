package gerrit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// execHandler is invoked once per exec request on a test server. The handler
// owns the channel: it writes output, reports an exit status and closes.
type execHandler func(cmd string, ch ssh.Channel)

// testSSHServer is a minimal in-process SSH server that speaks just enough of
// the protocol to exercise connections, sessions and exec requests.
type testSSHServer struct {
	t *testing.T

	listener net.Listener
	cfg      *ssh.ServerConfig
	handler  execHandler

	// keyPath is the client private key authorized on this server.
	keyPath string

	mu    sync.Mutex
	conns []net.Conn
	done  bool
}

// newTestSSHServer starts a server that authorizes a freshly generated client
// key and dispatches exec requests to the handler. The server is torn down
// with the test.
func newTestSSHServer(t *testing.T, handler execHandler) *testSSHServer {
	t.Helper()

	clientPub, keyPath := writeTestClientKey(t)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata,
			key ssh.PublicKey) (*ssh.Permissions, error) {

			if ssh.FingerprintSHA256(key) !=
				ssh.FingerprintSHA256(clientPub) {

				return nil, os.ErrPermission
			}

			return &ssh.Permissions{}, nil
		},
	}

	return startTestSSHServer(t, cfg, handler, keyPath)
}

// newRejectingSSHServer starts a server that refuses every authentication
// attempt. The returned key path still holds a valid private key so the
// client side gets as far as the auth step.
func newRejectingSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, keyPath := writeTestClientKey(t)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata,
			_ ssh.PublicKey) (*ssh.Permissions, error) {

			return nil, os.ErrPermission
		},
	}

	return startTestSSHServer(t, cfg, nil, keyPath)
}

func startTestSSHServer(t *testing.T, cfg *ssh.ServerConfig,
	handler execHandler, keyPath string) *testSSHServer {

	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)
	cfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testSSHServer{
		t:        t,
		listener: listener,
		cfg:      cfg,
		handler:  handler,
		keyPath:  keyPath,
	}

	go srv.acceptLoop()
	t.Cleanup(srv.stop)

	return srv
}

// writeTestClientKey generates a client key pair and writes the private key
// to a temp file, returning the public half and the file path.
func writeTestClientKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "test_key")
	err = os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600)
	require.NoError(t, err)

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	return sshPub, keyPath
}

func (s *testSSHServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

func (s *testSSHServer) handleConn(conn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.cfg)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}

		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}

		go s.handleSession(ch, requests)
	}
}

func (s *testSSHServer) handleSession(ch ssh.Channel,
	requests <-chan *ssh.Request) {

	for req := range requests {
		if req.Type != "exec" || s.handler == nil {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct {
			Command string
		}
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}

		_ = req.Reply(true, nil)
		go s.handler(payload.Command, ch)
	}
}

// addr returns the host:port the server listens on.
func (s *testSSHServer) addr() string {
	return s.listener.Addr().String()
}

// connConfig returns a client config pointed at this server with a fast
// retry policy suitable for tests.
func (s *testSSHServer) connConfig() ConnConfig {
	return ConnConfig{
		Addr:        s.addr(),
		Username:    "testuser",
		PrivKeyPath: s.keyPath,
		DialTimeout: 5 * time.Second,
		RetryPolicy: RetryPolicy{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     25 * time.Millisecond,
		},
	}
}

// dropConnections severs every live transport, simulating the server side
// going away mid stream. The listener keeps accepting, so reconnects
// succeed.
func (s *testSSHServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func (s *testSSHServer) stop() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	_ = s.listener.Close()
	s.dropConnections()
}

// exitStatus reports a command's exit status on the channel and closes it.
func exitStatus(ch ssh.Channel, status uint32) {
	payload := ssh.Marshal(struct{ Status uint32 }{Status: status})
	_, _ = ch.SendRequest("exit-status", false, payload)
	_ = ch.Close()
}
