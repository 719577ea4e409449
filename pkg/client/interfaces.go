package client

import (
	"context"
)

// TableSession is the part of Client that front ends drive. It allows front
// ends to be tested without a server.
type TableSession interface {
	WaitBound(ctx context.Context) error
	Wait() error
	Closed() <-chan struct{}

	RequestControl() error
	CancelControlRequest() error
	GiveControl(target string) error
	Goodbye() error

	Address() string
	PlayerName() string
}

// StateStore is the persistent client state
type StateStore interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	GetLastPlayerName() string
	GetLastServer() string
	RecordBound(serverAddress, playerName string) error
	PlayerNameFor(serverAddress string) (string, error)

	GetStateDir() string
	Close() error
}

var (
	_ TableSession = (*Client)(nil)
	_ StateStore   = (*State)(nil)
)
