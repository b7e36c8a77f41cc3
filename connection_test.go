// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import (
	"encoding/binary"
	"log/slog"
	"net"
	"testing"

	"github.com/nishisan-dev/nbolt/internal/chunking"
	"github.com/nishisan-dev/nbolt/internal/codec"
)

// newTestConnection builds a Connection wired to one end of an in-memory
// net.Pipe, bypassing Connect's dialing and TLS. The caller drives the
// other end with a fakeServer.
func newTestConnection(cfg Config) (*Connection, net.Conn) {
	clientConn, serverConn := net.Pipe()

	def := DefaultConfig()
	mergeDefaults(&cfg, def)

	c := &Connection{
		id:     1,
		cfg:    cfg,
		host:   "db.example.com",
		port:   7687,
		queue:  newRequestQueue(cfg.SessionRequestQueueSize),
		state:  stateOpening,
		logger: slog.Default(),
	}
	c.rawConn = clientConn
	byteStream := chunking.NewByteStream(clientConn)
	c.buffered = chunking.NewBufferingStream(byteStream, cfg.RcvBufSize, cfg.SndBufSize, true)
	c.stream = chunking.NewChunkingStream(c.buffered, cfg.SndMinChunkSize, cfg.SndMaxChunkSize)
	return c, serverConn
}

// fakeServer speaks the other half of the Bolt v1 wire protocol directly
// over a net.Conn, for driving a Connection's handshake/request state
// machine from a test without a real Bolt server.
type fakeServer struct {
	bs chunking.ByteStream
	cs *chunking.ChunkingStream
}

func newFakeServer(conn net.Conn) *fakeServer {
	bs := chunking.NewByteStream(conn)
	return &fakeServer{bs: bs, cs: chunking.NewChunkingStream(bs, 1, 0xFFFF)}
}

func (f *fakeServer) readHandshake(t *testing.T) {
	t.Helper()
	buf := make([]byte, 20)
	if err := chunking.ReadAll(f.bs, buf); err != nil {
		t.Fatalf("fake server: reading handshake: %v", err)
	}
}

func (f *fakeServer) writeVersion(t *testing.T, v uint32) {
	t.Helper()
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	if err := chunking.WriteAll(f.bs, b[:]); err != nil {
		t.Fatalf("fake server: writing version: %v", err)
	}
}

func (f *fakeServer) readMessage(t *testing.T) codec.Message {
	t.Helper()
	f.cs.BeginMessage()
	msg, err := codec.DecodeMessage(codec.NewDecoder(f.cs))
	if err != nil {
		t.Fatalf("fake server: reading message: %v", err)
	}
	return msg
}

func (f *fakeServer) writeMessage(t *testing.T, msg codec.Message) {
	t.Helper()
	if err := codec.EncodeMessage(codec.NewEncoder(f.cs), msg); err != nil {
		t.Fatalf("fake server: encoding message: %v", err)
	}
	if err := f.cs.EndMessage(); err != nil {
		t.Fatalf("fake server: ending message: %v", err)
	}
}

func TestHandshakeAndInitSuccess(t *testing.T) {
	c, serverConn := newTestConnection(Config{Username: "neo4j", Password: "pass"})
	srv := newFakeServer(serverConn)

	errCh := make(chan error, 1)
	go func() {
		if err := c.handshake(); err != nil {
			errCh <- err
			return
		}
		errCh <- c.sendInit()
	}()

	srv.readHandshake(t)
	srv.writeVersion(t, 1)

	initMsg := srv.readMessage(t)
	if initMsg.Signature != sigInit {
		t.Fatalf("expected INIT signature 0x%02X, got 0x%02X", sigInit, initMsg.Signature)
	}
	srv.writeMessage(t, codec.Message{
		Signature: sigSuccess,
		Argv:      []Value{map[string]Value{"server": "Neo4j/1.0", "credentials_expired": false}},
	})

	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ServerID != "Neo4j/1.0" {
		t.Errorf("expected ServerID from SUCCESS metadata, got %q", c.ServerID)
	}
	if c.ProtocolVersion != 1 {
		t.Errorf("expected negotiated version 1, got %d", c.ProtocolVersion)
	}
}

func TestHandshakeRejectsUnsupportedVersion(t *testing.T) {
	c, serverConn := newTestConnection(Config{})
	srv := newFakeServer(serverConn)

	errCh := make(chan error, 1)
	go func() { errCh <- c.handshake() }()

	srv.readHandshake(t)
	srv.writeVersion(t, 2)

	err := <-errCh
	if err == nil {
		t.Fatal("expected an error for an unsupported negotiated version")
	}
	if CodeOf(err) != CodeProtocolNegotiationFailed {
		t.Errorf("expected CodeProtocolNegotiationFailed, got %v", CodeOf(err))
	}
}

func TestSendInitUnauthorizedFailure(t *testing.T) {
	c, serverConn := newTestConnection(Config{Username: "neo4j", Password: "wrong"})
	srv := newFakeServer(serverConn)

	errCh := make(chan error, 1)
	go func() { errCh <- c.sendInit() }()

	initMsg := srv.readMessage(t)
	if initMsg.Signature != sigInit {
		t.Fatalf("expected INIT signature 0x%02X, got 0x%02X", sigInit, initMsg.Signature)
	}
	srv.writeMessage(t, codec.Message{
		Signature: sigFailure,
		Argv: []Value{map[string]Value{
			"code":    "Neo.ClientError.Security.Unauthorized",
			"message": "invalid credentials",
		}},
	})

	err := <-errCh
	if err == nil {
		t.Fatal("expected an error")
	}
	if CodeOf(err) != CodeInvalidCredentials {
		t.Errorf("expected CodeInvalidCredentials, got %v", CodeOf(err))
	}
}

func TestPipeliningDeliversRunThenPullAllInOrder(t *testing.T) {
	cfg := Config{MaxPipelinedRequests: 2, SessionRequestQueueSize: 4}
	c, serverConn := newTestConnection(cfg)
	c.setState(stateReady)
	srv := newFakeServer(serverConn)

	var runResp, pullResp []Response
	if err := c.Run("RETURN 1", nil, func(r Response) { runResp = append(runResp, r) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := c.PullAll(func(r Response) { pullResp = append(pullResp, r) }); err != nil {
		t.Fatalf("PullAll: %v", err)
	}

	syncErr := make(chan error, 1)
	go func() { syncErr <- c.Sync(0) }()

	runMsg := srv.readMessage(t)
	if runMsg.Signature != sigRun {
		t.Fatalf("expected RUN, got 0x%02X", runMsg.Signature)
	}
	pullMsg := srv.readMessage(t)
	if pullMsg.Signature != sigPullAll {
		t.Fatalf("expected PULL_ALL, got 0x%02X", pullMsg.Signature)
	}

	srv.writeMessage(t, codec.Message{Signature: sigSuccess, Argv: []Value{map[string]Value{"fields": []Value{"n"}}}})
	srv.writeMessage(t, codec.Message{Signature: sigRecord, Argv: []Value{[]Value{int64(1)}}})
	srv.writeMessage(t, codec.Message{Signature: sigRecord, Argv: []Value{[]Value{int64(2)}}})
	srv.writeMessage(t, codec.Message{Signature: sigSuccess, Argv: []Value{map[string]Value{}}})

	if err := <-syncErr; err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(runResp) != 1 || runResp[0].Kind != ResponseSuccess {
		t.Fatalf("expected exactly one SUCCESS for RUN, got %v", runResp)
	}
	if len(pullResp) != 3 {
		t.Fatalf("expected 2 records + 1 terminal SUCCESS for PULL_ALL, got %d: %v", len(pullResp), pullResp)
	}
	if pullResp[0].Kind != ResponseRecord || pullResp[1].Kind != ResponseRecord || pullResp[2].Kind != ResponseSuccess {
		t.Errorf("unexpected PULL_ALL response sequence: %v, %v, %v", pullResp[0].Kind, pullResp[1].Kind, pullResp[2].Kind)
	}
}

func TestFailureDrainSequence(t *testing.T) {
	cfg := Config{MaxPipelinedRequests: 2, SessionRequestQueueSize: 4}
	c, serverConn := newTestConnection(cfg)
	c.setState(stateReady)
	srv := newFakeServer(serverConn)

	var r1, r2 []Response
	if err := c.Run("BAD CYPHER", nil, func(r Response) { r1 = append(r1, r) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := c.Run("RETURN 1", nil, func(r Response) { r2 = append(r2, r) }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	syncErr := make(chan error, 1)
	go func() { syncErr <- c.Sync(0) }()

	msg1 := srv.readMessage(t)
	msg2 := srv.readMessage(t)
	if msg1.Signature != sigRun || msg2.Signature != sigRun {
		t.Fatalf("expected two RUN messages, got 0x%02X 0x%02X", msg1.Signature, msg2.Signature)
	}

	srv.writeMessage(t, codec.Message{
		Signature: sigFailure,
		Argv:      []Value{map[string]Value{"code": "Neo.ClientError.Statement.SyntaxError", "message": "bad syntax"}},
	})
	srv.writeMessage(t, codec.Message{Signature: sigIgnored, Argv: nil})

	ackMsg := srv.readMessage(t)
	if ackMsg.Signature != sigAckFailure {
		t.Fatalf("expected ACK_FAILURE, got 0x%02X", ackMsg.Signature)
	}
	srv.writeMessage(t, codec.Message{Signature: sigSuccess, Argv: []Value{map[string]Value{}}})

	if err := <-syncErr; err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(r1) != 1 || r1[0].Kind != ResponseFailure {
		t.Fatalf("expected exactly one FAILURE for the first RUN, got %v", r1)
	}
	if len(r2) != 1 || r2[0].Kind != ResponseIgnored {
		t.Fatalf("expected exactly one IGNORED for the second RUN, got %v", r2)
	}
	if c.getState() != stateReady {
		t.Errorf("expected Ready state after the failure drain, got %v", c.getState())
	}
}

func TestResetIdleRoundTrip(t *testing.T) {
	c, serverConn := newTestConnection(Config{})
	c.setState(stateReady)
	srv := newFakeServer(serverConn)

	resetErr := make(chan error, 1)
	go func() { resetErr <- c.Reset() }()

	msg := srv.readMessage(t)
	if msg.Signature != sigReset {
		t.Fatalf("expected RESET, got 0x%02X", msg.Signature)
	}
	srv.writeMessage(t, codec.Message{Signature: sigSuccess, Argv: []Value{map[string]Value{}}})

	if err := <-resetErr; err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.getState() != stateReady {
		t.Errorf("expected Ready state after the reset drain, got %v", c.getState())
	}
	if c.resetRequested.Load() {
		t.Error("resetRequested should be cleared once the drain completes")
	}
}

func TestResetDrainsInflightRequestsAsIgnored(t *testing.T) {
	cfg := Config{MaxPipelinedRequests: 2, SessionRequestQueueSize: 4}
	c, serverConn := newTestConnection(cfg)
	c.setState(stateReady)
	srv := newFakeServer(serverConn)

	var r1 []Response
	if err := c.Run("RETURN 1", nil, func(r Response) { r1 = append(r1, r) }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	fillErr := make(chan error, 1)
	go func() { fillErr <- c.fillPipeline() }()
	runMsg := srv.readMessage(t)
	if runMsg.Signature != sigRun {
		t.Fatalf("expected RUN, got 0x%02X", runMsg.Signature)
	}
	if err := <-fillErr; err != nil {
		t.Fatalf("fillPipeline: %v", err)
	}

	resetErr := make(chan error, 1)
	go func() { resetErr <- c.Reset() }()

	resetMsg := srv.readMessage(t)
	if resetMsg.Signature != sigReset {
		t.Fatalf("expected RESET, got 0x%02X", resetMsg.Signature)
	}
	srv.writeMessage(t, codec.Message{Signature: sigIgnored, Argv: nil})
	srv.writeMessage(t, codec.Message{Signature: sigSuccess, Argv: []Value{map[string]Value{}}})

	if err := <-resetErr; err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(r1) != 1 || r1[0].Kind != ResponseIgnored {
		t.Fatalf("expected the in-flight RUN to be delivered as Ignored, got %v", r1)
	}
	if c.getState() != stateReady {
		t.Errorf("expected Ready state after the reset drain, got %v", c.getState())
	}
}
