// Package hsmstransport binds the gem engine to an HSMS-SS connection.
// It owns the TCP/HSMS lifecycle and adapts inbound data messages onto the
// engine's dispatcher.
package hsmstransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-secs/hsms"
	"github.com/arloliu/go-secs/hsmsss"
	"github.com/arloliu/go-secs/secs2"
	"go.uber.org/atomic"

	"github.com/semiconlab/gemequip/common"
	"github.com/semiconlab/gemequip/gem"
)

// Config describes one HSMS-SS endpoint.
type Config struct {
	// Host and Port locate the endpoint. In passive mode they are the
	// local listen address, in active mode the remote host address.
	Host string
	Port int

	// Passive selects the HSMS-SS passive (listening) role. Equipment
	// conventionally listens.
	Passive bool

	SessionID uint16

	// HSMS timeouts. Zero values keep the go-secs defaults.
	T3 time.Duration
	T5 time.Duration
	T6 time.Duration
	T7 time.Duration
	T8 time.Duration

	// LinktestInterval enables periodic linktest when non-zero.
	LinktestInterval time.Duration
}

// Validate checks the address fields; the timeout fields are delegated to
// the connection config which enforces its own ranges.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("hsmstransport: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("hsmstransport: invalid port %d", c.Port)
	}
	return nil
}

// Transport is a gem.Transport carried by one HSMS-SS session.
type Transport struct {
	conn    *hsmsss.Connection
	session hsms.Session

	dispatcher *gem.Dispatcher
	selected   *atomic.Bool
	logger     common.Logger
}

var _ gem.Transport = (*Transport)(nil)

// New builds the transport and wires inbound messages to the dispatcher.
// The connection is not opened; call Open.
func New(ctx context.Context, cfg Config, dispatcher *gem.Dispatcher, logger common.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dispatcher == nil {
		return nil, errors.New("hsmstransport: dispatcher is required")
	}
	if logger == nil {
		logger = common.NopLogger()
	}

	opts := []hsmsss.ConnOption{hsmsss.WithEquipRole()}
	if cfg.Passive {
		opts = append(opts, hsmsss.WithPassive())
	} else {
		opts = append(opts, hsmsss.WithActive())
	}
	if cfg.T3 > 0 {
		opts = append(opts, hsmsss.WithT3Timeout(cfg.T3))
	}
	if cfg.T5 > 0 {
		opts = append(opts, hsmsss.WithT5Timeout(cfg.T5))
	}
	if cfg.T6 > 0 {
		opts = append(opts, hsmsss.WithT6Timeout(cfg.T6))
	}
	if cfg.T7 > 0 {
		opts = append(opts, hsmsss.WithT7Timeout(cfg.T7))
	}
	if cfg.T8 > 0 {
		opts = append(opts, hsmsss.WithT8Timeout(cfg.T8))
	}
	if cfg.LinktestInterval > 0 {
		opts = append(opts, hsmsss.WithAutoLinktest(true), hsmsss.WithLinktestInterval(cfg.LinktestInterval))
	}

	connCfg, err := hsmsss.NewConnectionConfig(cfg.Host, cfg.Port, opts...)
	if err != nil {
		return nil, fmt.Errorf("hsmstransport: connection config: %w", err)
	}

	conn, err := hsmsss.NewConnection(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("hsmstransport: connection: %w", err)
	}

	t := &Transport{
		conn:       conn,
		dispatcher: dispatcher,
		selected:   atomic.NewBool(false),
		logger:     logger,
	}

	t.session = conn.AddSession(cfg.SessionID)
	t.session.AddConnStateChangeHandler(t.onConnState)
	t.session.AddDataMessageHandler(t.onDataMessage)

	return t, nil
}

// Open starts the connection. With waitOpened true it blocks until the
// session is selected or the connect timeout expires.
func (t *Transport) Open(waitOpened bool) error {
	return t.conn.Open(waitOpened)
}

// Close shuts the connection down.
func (t *Transport) Close() error {
	t.selected.Store(false)
	return t.conn.Close()
}

// Send transmits a message without waiting for a reply.
func (t *Transport) Send(msg *gem.Message) error {
	if !t.Usable() {
		return gem.ErrTransportUnusable
	}
	_, err := t.session.SendSECS2Message(msg)
	return err
}

// SendAndWait transmits a primary message and blocks for the correlated
// reply, bounded by the T3 reply timeout.
func (t *Transport) SendAndWait(msg *gem.Message) (*gem.Message, error) {
	if !t.Usable() {
		return nil, gem.ErrTransportUnusable
	}

	reply, err := t.session.SendSECS2Message(msg)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, nil
	}
	return fromDataMessage(reply), nil
}

// Usable reports whether the HSMS session is selected.
func (t *Transport) Usable() bool {
	return t.selected.Load()
}

func (t *Transport) onConnState(_ hsms.Connection, prev hsms.ConnState, cur hsms.ConnState) {
	t.selected.Store(cur.IsSelected())
	t.logger.Info("hsms connection state changed", "prev", prev.String(), "current", cur.String())
}

// onDataMessage feeds one inbound message through the dispatcher and sends
// the produced reply back on the session.
func (t *Transport) onDataMessage(dm *hsms.DataMessage, session hsms.Session) {
	reply, err := t.dispatcher.Dispatch(fromDataMessage(dm))
	if err != nil && !errors.Is(err, gem.ErrUnrecognizedMessage) {
		t.logger.Error("inbound message handling failed", "stream", dm.StreamCode(), "function", dm.FunctionCode(), "error", err)
	}
	if reply == nil {
		if errors.Is(err, gem.ErrUnrecognizedMessage) && dm.WaitBit() {
			t.abort(dm, session)
		}
		return
	}

	if reply.FunctionCode() == 0 {
		t.abort(dm, session)
		return
	}
	if sendErr := session.ReplyDataMessage(dm, reply.Item()); sendErr != nil {
		t.logger.Error("reply failed", "stream", reply.StreamCode(), "function", reply.FunctionCode(), "error", sendErr)
	}
}

// abort answers a primary message with the stream's function-zero abort.
func (t *Transport) abort(dm *hsms.DataMessage, session hsms.Session) {
	abortMsg, err := hsms.NewDataMessage(dm.StreamCode(), 0, false, dm.SessionID(), dm.SystemBytes(), secs2.NewEmptyItem())
	if err != nil {
		t.logger.Error("cannot build abort reply", "stream", dm.StreamCode(), "error", err)
		return
	}
	if _, err := session.SendMessage(abortMsg); err != nil {
		t.logger.Error("abort reply failed", "stream", dm.StreamCode(), "error", err)
	}
}

func fromDataMessage(dm *hsms.DataMessage) *gem.Message {
	return gem.NewMessage(dm.StreamCode(), dm.FunctionCode(), dm.WaitBit(), dm.Item())
}
