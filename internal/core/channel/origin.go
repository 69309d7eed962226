package channel

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Resolve derives the handle and origin of an address. Two address forms are accepted:
//
//	https://a.test/app           origin https://a.test
//	/dns4/a.test/tcp/4001/p2p/Qm origin /dns4/a.test/tcp/4001
//
// The handle is the trimmed address itself.
func Resolve(address string) (Peer, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Peer{}, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	origin, err := OriginOf(address)
	if err != nil {
		return Peer{}, err
	}
	return Peer{Handle: address, Origin: origin}, nil
}

func OriginOf(address string) (string, error) {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "/") {
		return multiaddrOrigin(address)
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q has no scheme or host", ErrInvalidAddress, address)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

func multiaddrOrigin(address string) (string, error) {
	m, err := ma.NewMultiaddr(address)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	transport, id := peer.SplitAddr(m)
	if transport != nil {
		if s := transport.String(); s != "" {
			return s, nil
		}
	}
	if id != "" {
		return "/p2p/" + id.String(), nil
	}
	return "", fmt.Errorf("%w: %q has no transport or peer id", ErrInvalidAddress, address)
}
