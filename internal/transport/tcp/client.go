// Package tcp owns the single control connection to the agent.
package tcp

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"lockstep.ai/internal/config"
	"lockstep.ai/internal/protocol"
)

var (
	ErrRemoteClosed = errors.New("agent closed the connection")
	ErrNotConnected = errors.New("not connected")
)

type Config struct {
	RemoteAddr string
	LocalAddr  string
	NoDelay    bool

	DialTimeout time.Duration
	RecvTimeout time.Duration
	SendTimeout time.Duration

	ReadBufferBytes int
	Validate        bool
}

func ConfigFrom(c config.Config) Config {
	return Config{
		RemoteAddr:      c.RemoteAddr,
		LocalAddr:       c.LocalAddr,
		NoDelay:         c.NoDelay,
		DialTimeout:     c.DialTimeout,
		RecvTimeout:     c.RecvTimeout,
		SendTimeout:     c.SendTimeout,
		ReadBufferBytes: c.ReadBufferBytes,
		Validate:        c.ValidateMessages,
	}
}

// Client is used from the simulation thread only; it does no locking.
type Client struct {
	cfg Config
	log *log.Logger

	conn    *net.TCPConn
	healthy bool
	buf     []byte

	dials int
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.ReadBufferBytes <= 0 {
		cfg.ReadBufferBytes = 64 * 1024
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{cfg: cfg, log: logger}
}

func (c *Client) Connected() bool { return c.conn != nil && c.healthy }

// Dials reports how many connections have been opened so far.
func (c *Client) Dials() int { return c.dials }

func (c *Client) ensure() error {
	if c.Connected() {
		return nil
	}
	_ = c.Close()

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	if c.cfg.LocalAddr != "" {
		la, err := net.ResolveTCPAddr("tcp", c.cfg.LocalAddr)
		if err != nil {
			return protocol.Errorf(protocol.ErrTransportDial, "local addr "+c.cfg.LocalAddr, err)
		}
		d.LocalAddr = la
		d.Control = reuseAddr
	}
	conn, err := d.Dial("tcp", c.cfg.RemoteAddr)
	if err != nil {
		return protocol.Errorf(protocol.ErrTransportDial, c.cfg.RemoteAddr, err)
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return protocol.Errorf(protocol.ErrTransportDial, "not a tcp connection", nil)
	}
	if err := tc.SetNoDelay(c.cfg.NoDelay); err != nil {
		_ = tc.Close()
		return protocol.Errorf(protocol.ErrTransportDial, "set nodelay", err)
	}
	if c.buf == nil {
		c.buf = make([]byte, c.cfg.ReadBufferBytes)
	}
	c.conn = tc
	c.healthy = true
	c.dials++
	c.log.Printf("connected local=%s remote=%s", tc.LocalAddr(), tc.RemoteAddr())
	return nil
}

// Send writes one observation as a single JSON message, connecting first if
// needed. Any failure tears the connection down; the caller must not retry
// the same observation.
func (c *Client) Send(obs protocol.Observation) error {
	b, err := json.Marshal(obs)
	if err != nil {
		return protocol.Errorf(protocol.ErrInternal, "marshal observation", err)
	}
	if err := c.ensure(); err != nil {
		_ = c.Close()
		return err
	}
	if c.cfg.SendTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
	}
	if _, err := c.conn.Write(b); err != nil {
		_ = c.Close()
		return protocol.Errorf(protocol.ErrTransportWrite, "write observation", err)
	}
	return nil
}

// Receive blocks for the reply to the observation just sent. It returns a
// protocol fault (connection kept) for malformed or unknown messages and a
// transport fault (connection closed) for read errors and remote close. A
// shutdown message closes the connection before it is returned.
func (c *Client) Receive() (protocol.AgentMsg, error) {
	if c.conn == nil {
		return protocol.AgentMsg{}, protocol.Errorf(protocol.ErrTransportRead, "receive", ErrNotConnected)
	}
	if c.cfg.RecvTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.RecvTimeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	n, err := c.conn.Read(c.buf)
	if n == 0 {
		_ = c.Close()
		if err == nil || errors.Is(err, io.EOF) {
			return protocol.AgentMsg{}, protocol.Errorf(protocol.ErrTransportClosed, "", ErrRemoteClosed)
		}
		return protocol.AgentMsg{}, protocol.Errorf(protocol.ErrTransportRead, "read reply", err)
	}

	msg, err := protocol.DecodeAgent(c.buf[:n], c.cfg.Validate)
	if err != nil {
		return protocol.AgentMsg{}, err
	}
	if msg.Type == protocol.TypeShutdown {
		_ = c.Close()
	}
	return msg, nil
}

// Close is safe to call repeatedly.
func (c *Client) Close() error {
	conn := c.conn
	c.conn = nil
	c.healthy = false
	if conn == nil {
		return nil
	}
	return conn.Close()
}
