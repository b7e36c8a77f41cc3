// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/nbolt/internal/chunking"
	"github.com/nishisan-dev/nbolt/internal/codec"
	"github.com/nishisan-dev/nbolt/internal/logging"
	"github.com/nishisan-dev/nbolt/internal/pki"
	"github.com/nishisan-dev/nbolt/internal/tlsverify"
	"github.com/nishisan-dev/nbolt/internal/tofu"
)

// magicPreamble is the 4-byte Bolt handshake marker.
var magicPreamble = [4]byte{0x60, 0x60, 0xB0, 0x17}

// supportedVersions are the candidate versions this core offers during
// negotiation. Only Bolt v1 is understood.
var supportedVersions = [4]uint32{1, 0, 0, 0}

type connState int32

const (
	stateOpening connState = iota
	stateNegotiating
	stateInitializing
	stateReady
	stateFailureDraining
	stateClosed
	stateFailed
)

var connIDSeq atomic.Uint64

// Connection is a single Bolt v1 session: handshake, INIT, and a pipelined
// request/response channel. A Connection is not safe for concurrent use
// except for Reset; see Connect, Run, PullAll, DiscardAll, Sync, Close,
// Reset.
type Connection struct {
	id     uint64
	cfg    Config
	logger *slog.Logger

	rawConn  net.Conn
	buffered *chunking.BufferingStream
	stream   *chunking.ChunkingStream

	debugLogCloser io.Closer

	host string
	port int

	ServerID           string
	CredentialsExpired bool
	Insecure           bool
	ProtocolVersion    uint32

	queue         *requestQueue
	inflightCount int

	jobsMu sync.Mutex
	jobs   *Job

	processing     atomic.Bool
	resetRequested atomic.Bool

	stateMu sync.Mutex
	state   connState

	failureDraining   bool
	ackFailurePending bool
}

// Connect opens a TCP connection to the Bolt server named by uri, performs
// the handshake and INIT, and returns a ready Connection. uri is parsed
// per ParseURI; cfg fills in credentials, TLS, and queue sizing.
func Connect(ctx context.Context, uri string, cfg Config) (*Connection, error) {
	parsed, err := ParseURI(uri, cfg.NoURICredentials, cfg.NoURIPassword)
	if err != nil {
		return nil, err
	}
	if cfg.Username == "" && cfg.Password == "" {
		cfg.Username, cfg.Password = parsed.Username, parsed.Password
	}
	return connectHostPort(ctx, parsed.Host, parsed.Port, cfg)
}

func connectHostPort(ctx context.Context, host string, port int, cfg Config) (*Connection, error) {
	mergeDefaults(&cfg, DefaultConfig())
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newErr("Connect", CodeUnknownHost, err)
	}
	if tcp, ok := rawConn.(*net.TCPConn); ok {
		if cfg.SoSndBufSize > 0 {
			if err := tcp.SetWriteBuffer(cfg.SoSndBufSize); err != nil {
				rawConn.Close()
				return nil, newErr("Connect", CodeUnexpectedError, err)
			}
		}
		if cfg.SoRcvBufSize > 0 {
			if err := tcp.SetReadBuffer(cfg.SoRcvBufSize); err != nil {
				rawConn.Close()
				return nil, newErr("Connect", CodeUnexpectedError, err)
			}
		}
	}

	c := &Connection{
		id:    connIDSeq.Add(1),
		cfg:   cfg,
		host:  host,
		port:  port,
		queue: newRequestQueue(cfg.SessionRequestQueueSize),
		state: stateOpening,
	}
	c.logger = slog.Default().With("conn_id", c.id, "host", host, "port", port)
	if cfg.DebugLogDir != "" {
		connLogger, closer, logPath, err := logging.NewConnectionLogger(c.logger, cfg.DebugLogDir, c.id)
		if err != nil {
			rawConn.Close()
			return nil, newErr("Connect", CodeUnexpectedError, err)
		}
		c.logger = connLogger
		c.debugLogCloser = closer
		c.logger.Debug("connection debug log opened", "path", logPath)
	}

	netConn := rawConn
	insecure := true
	if cfg.TLSCAFile != "" || cfg.TLSCADir != "" || cfg.TrustKnownHosts {
		tlsConn, err := c.wrapTLS(rawConn)
		if err != nil {
			rawConn.Close()
			return nil, err
		}
		netConn = tlsConn
		insecure = false
	}
	c.rawConn = netConn
	c.Insecure = insecure

	byteStream := chunking.NewByteStream(netConn)
	c.buffered = chunking.NewBufferingStream(byteStream, cfg.RcvBufSize, cfg.SndBufSize, true)
	c.stream = chunking.NewChunkingStream(c.buffered, cfg.SndMinChunkSize, cfg.SndMaxChunkSize)

	if err := c.handshake(); err != nil {
		c.fail(err)
		c.stream.Close()
		if c.debugLogCloser != nil {
			c.debugLogCloser.Close()
		}
		return nil, err
	}
	if err := c.sendInit(); err != nil {
		c.fail(err)
		c.stream.Close()
		if c.debugLogCloser != nil {
			c.debugLogCloser.Close()
		}
		return nil, err
	}

	c.setState(stateReady)
	c.logger.Info("bolt connection ready", "server_id", c.ServerID, "insecure", c.Insecure)
	return c, nil
}

func mergeDefaults(cfg *Config, def Config) {
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.MaxPipelinedRequests == 0 {
		cfg.MaxPipelinedRequests = def.MaxPipelinedRequests
	}
	if cfg.SessionRequestQueueSize == 0 {
		cfg.SessionRequestQueueSize = def.SessionRequestQueueSize
	}
	if cfg.SndMinChunkSize == 0 {
		cfg.SndMinChunkSize = def.SndMinChunkSize
	}
	if cfg.SndMaxChunkSize == 0 {
		cfg.SndMaxChunkSize = def.SndMaxChunkSize
	}
	if cfg.SndBufSize == 0 {
		cfg.SndBufSize = def.SndBufSize
	}
	if cfg.RcvBufSize == 0 {
		cfg.RcvBufSize = def.RcvBufSize
	}
}

func (c *Connection) wrapTLS(rawConn net.Conn) (*tls.Conn, error) {
	var registry *tofu.Registry
	if c.cfg.TrustKnownHosts {
		path, err := c.cfg.resolveKnownHostsPath()
		if err != nil {
			return nil, newErr("Connect", CodeUnexpectedError, err)
		}
		registry = tofu.Open(path)
	}

	tlsCfg, err := pki.ClientTLSConfig(pki.ClientConfig{
		CAFile:             c.cfg.TLSCAFile,
		CADir:              c.cfg.TLSCADir,
		PrivateKeyFile:     c.cfg.TLSPrivateKeyFile,
		PrivateKeyPassword: c.cfg.privateKeyPassword,
	})
	if err != nil {
		return nil, newErr("Connect", CodeTlsNotSupported, err)
	}
	tlsCfg.ServerName = c.host

	verifyCfg := tlsverify.Config{
		Roots:              tlsCfg.RootCAs,
		TrustKnownHosts:    c.cfg.TrustKnownHosts,
		Registry:           registry,
		UnverifiedCallback: c.cfg.UnverifiedHostCallback,
	}
	peerVerify := tlsverify.PeerVerifyFunc(c.host, c.port, verifyCfg)
	tlsCfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return peerVerify(rawCerts)
	}

	tlsConn := tls.Client(rawConn, tlsCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, newErr("Connect", CodeTlsVerificationFailed, err)
	}
	return tlsConn, nil
}

// handshake performs the 4-byte magic preamble exchange and version
// negotiation described by §4.6.
func (c *Connection) handshake() error {
	c.setState(stateNegotiating)

	buf := make([]byte, 0, 20)
	buf = append(buf, magicPreamble[:]...)
	for _, v := range supportedVersions {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	if err := chunking.WriteAll(c.buffered, buf); err != nil {
		return newErr("handshake", CodeProtocolNegotiationFailed, err)
	}
	if err := c.buffered.Flush(); err != nil {
		return newErr("handshake", CodeProtocolNegotiationFailed, err)
	}

	var resp [4]byte
	if err := chunking.ReadAll(c.buffered, resp[:]); err != nil {
		return newErr("handshake", CodeProtocolNegotiationFailed, err)
	}
	version := binary.BigEndian.Uint32(resp[:])
	if version == 0 || version != 1 {
		return newErr("handshake", CodeProtocolNegotiationFailed, fmt.Errorf("server proposed unsupported version %d", version))
	}
	c.ProtocolVersion = version
	return nil
}

// sendInit sends the single INIT message and interprets its reply.
func (c *Connection) sendInit() error {
	c.setState(stateInitializing)

	username, password := c.cfg.credentials()
	authToken := map[string]Value{
		"scheme":      "basic",
		"principal":   username,
		"credentials": password,
	}
	msg := codec.Message{Signature: sigInit, Argv: []Value{c.cfg.ClientID, authToken}}

	// credentials must not linger in memory past this call.
	defer func() {
		password = ""
		c.cfg.Password = ""
	}()

	if err := c.writeMessage(msg); err != nil {
		return newErr("INIT", CodeConnectionClosed, err)
	}
	reply, err := c.readMessage()
	if err != nil {
		return wrapCodecErr("INIT", err)
	}

	switch reply.Signature {
	case sigSuccess:
		meta, _ := soleArg(reply.Argv).(map[string]Value)
		if sid, ok := meta["server"].(string); ok {
			c.ServerID = sid
		}
		if exp, ok := meta["credentials_expired"].(bool); ok {
			c.CredentialsExpired = exp
		}
		return nil
	case sigFailure:
		meta, _ := soleArg(reply.Argv).(map[string]Value)
		return classifyInitFailure(meta)
	default:
		return newErr("INIT", CodeProtocolNegotiationFailed, fmt.Errorf("unexpected reply signature 0x%02X", reply.Signature))
	}
}

func soleArg(argv []Value) Value {
	if len(argv) == 0 {
		return nil
	}
	return argv[0]
}

func classifyInitFailure(meta map[string]Value) error {
	code, _ := meta["code"].(string)
	switch code {
	case "Neo.ClientError.Security.Unauthorized":
		return newErr("INIT", CodeInvalidCredentials, fmt.Errorf("%v", meta["message"]))
	case "Neo.ClientError.Security.AuthenticationRateLimit":
		return newErr("INIT", CodeAuthRateLimit, fmt.Errorf("%v", meta["message"]))
	case "Neo.ClientError.Security.EncryptionRequired":
		return newErr("INIT", CodeServerRequiresSecure, fmt.Errorf("%v", meta["message"]))
	default:
		return newErr("INIT", CodeUnexpectedError, fmt.Errorf("%v", meta["message"]))
	}
}

func (c *Connection) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Connection) getState() connState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// fail transitions the connection into the terminal Failed state: every
// further operation on it returns SessionFailed.
func (c *Connection) fail(cause error) {
	c.stateMu.Lock()
	already := c.state == stateFailed
	c.state = stateFailed
	c.stateMu.Unlock()
	if !already {
		c.logger.Error("connection failed", "error", cause)
	}
}

func (c *Connection) isFailed() bool {
	return c.getState() == stateFailed
}

// writeMessage frames and sends one message, ending the chunked sequence
// with the zero-length terminator.
func (c *Connection) writeMessage(msg codec.Message) error {
	enc := codec.NewEncoder(c.stream)
	if err := codec.EncodeMessage(enc, msg); err != nil {
		return err
	}
	return c.stream.EndMessage()
}

// readMessage reads exactly one framed message.
func (c *Connection) readMessage() (codec.Message, error) {
	c.stream.BeginMessage()
	dec := codec.NewDecoder(c.stream)
	return codec.DecodeMessage(dec)
}

// Close idempotently tears the connection down: aborts jobs with
// SessionEnded, drains inflight and queued requests, then closes the
// stream. It fails with SessionBusy if processing is active on another
// goroutine.
func (c *Connection) Close() error {
	if c.getState() == stateClosed {
		return nil
	}
	if !c.processing.CompareAndSwap(false, true) {
		return errSessionBusy
	}
	defer c.processing.Store(false)

	c.notifyJobs(CodeSessionEnded)
	c.drainInflight(ResponseDrained, nil)
	c.drainQueued(ResponseDrained, nil)

	c.setState(stateClosed)
	if c.debugLogCloser != nil {
		c.debugLogCloser.Close()
		logging.RemoveConnectionLog(c.cfg.DebugLogDir, c.id)
	}
	if c.stream != nil {
		return c.stream.Close()
	}
	return nil
}

// ID returns the connection's process-local, monotonically increasing
// identifier, used to correlate log lines and debug log files across a
// busy process running many connections at once.
func (c *Connection) ID() uint64 { return c.id }

var _ io.Closer = (*Connection)(nil)
