package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// NodeID is the stable identifier derived from a node's signing key.
type NodeID [32]byte

func NodeIDFromBytes(b []byte) NodeID {
	var id NodeID
	copy(id[:], b)
	return id
}

func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid node id encoding: %w", err)
	}
	if len(b) != len(NodeID{}) {
		return NodeID{}, fmt.Errorf("invalid node id length: expected %d bytes", len(NodeID{}))
	}
	return NodeIDFromBytes(b), nil
}

func (id NodeID) Bytes() []byte {
	return id[:]
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns a truncated form for logs.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:4])
}

// Endpoint is a host:port pair a node claims to be reachable at.
type Endpoint struct {
	Host string
	Port uint16
}

// ParseEndpoint validates and normalizes a textual "host:port" address.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, errors.New("endpoint cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", s)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port", s)
	}

	return Endpoint{Host: host, Port: uint16(port)}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}
