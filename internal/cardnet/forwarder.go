package cardnet

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/moov-io/iso8583"
	connection "github.com/moov-io/iso8583-connection"
	"github.com/moov-io/iso8583/specs"
	"golang.org/x/exp/slog"
)

// Sender sends a message and waits for its response.
type Sender interface {
	Send(message *iso8583.Message) (*iso8583.Message, error)
}

// Dial connects to a card network endpoint framing messages with a 2-byte
// big-endian length header.
func Dial(addr string, timeout time.Duration) (*connection.Connection, error) {
	conn, err := connection.New(addr, specs.Spec87ASCII, readMessageLength, writeMessageLength,
		connection.SendTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connection: %w", err)
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

func readMessageLength(r io.Reader) (int, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, fmt.Errorf("reading length header: %w", err)
	}
	return int(binary.BigEndian.Uint16(header[:])), nil
}

func writeMessageLength(w io.Writer, length int) (int, error) {
	if length > 0xFFFF {
		return 0, fmt.Errorf("message length %d exceeds 2-byte header", length)
	}
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(length))
	n, err := w.Write(header[:])
	if err != nil {
		return n, fmt.Errorf("writing length header: %w", err)
	}
	return n, nil
}

// Forwarder sends an advice for every card payment it is given.
type Forwarder struct {
	logger *slog.Logger
	sender Sender
	stan   atomic.Int64
}

func NewForwarder(logger *slog.Logger, sender Sender) *Forwarder {
	return &Forwarder{
		logger: logger.With(slog.String("component", "cardnet")),
		sender: sender,
	}
}

func (f *Forwarder) nextSTAN() int {
	return int(f.stan.Add(1) % 1_000_000)
}

// Advise sends the advice of p and checks the network accepted it.
func (f *Forwarder) Advise(p Payment) error {
	p.STAN = f.nextSTAN()
	msg, err := BuildAdvice(p)
	if err != nil {
		return fmt.Errorf("building advice: %w", err)
	}
	resp, err := f.sender.Send(msg)
	if err != nil {
		return fmt.Errorf("sending advice: %w", err)
	}
	mti, err := resp.GetMTI()
	if err != nil {
		return fmt.Errorf("reading response mti: %w", err)
	}
	if mti != MTIAdviceResponse {
		return fmt.Errorf("unexpected response mti %s", mti)
	}
	code, err := resp.GetString(39)
	if err != nil {
		return fmt.Errorf("reading response code: %w", err)
	}
	if code != ResponseApproved {
		return fmt.Errorf("advice rejected with response code %s", code)
	}
	f.logger.Info("advice accepted",
		slog.String("transaction", p.TransactionID),
		slog.Int("stan", p.STAN),
	)
	return nil
}
