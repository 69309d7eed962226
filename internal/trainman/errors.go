package trainman

import "errors"

var (
	ErrUnknownPeer       = errors.New("trainman: unknown peer")
	ErrDuplicateIdentity = errors.New("trainman: peer already registered")
	ErrReservedTopic     = errors.New("trainman: topic is reserved for the handshake protocol")
	ErrEmptyTopic        = errors.New("trainman: empty topic")
	ErrEmptyIdentity     = errors.New("trainman: empty client id")
	ErrClosed            = errors.New("trainman: endpoint closed")
)
