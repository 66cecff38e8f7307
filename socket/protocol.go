package socket

import (
	"fmt"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/bus"
	"go.nanomsg.org/mangos/v3/protocol/pair"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// transports are registered by import
	_ "go.nanomsg.org/mangos/v3/transport/inproc"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

// Protocol selects the scalability protocol of a socket. The numeric values
// are part of the host-language surface and must not change.
type Protocol int

const (
	Bus Protocol = iota
	Pair
	Pull
	Push
	Pub
	Sub
	Rep
	Req
)

var protocolNames = [...]string{
	Bus:  "bus",
	Pair: "pair",
	Pull: "pull",
	Push: "push",
	Pub:  "pub",
	Sub:  "sub",
	Rep:  "rep",
	Req:  "req",
}

// Protocols lists every supported protocol, in numeric order.
func Protocols() []Protocol {
	return []Protocol{Bus, Pair, Pull, Push, Pub, Sub, Rep, Req}
}

func (p Protocol) Valid() bool { return p >= Bus && p <= Req }

func (p Protocol) String() string {
	if p.Valid() {
		return protocolNames[p]
	}
	return fmt.Sprintf("Protocol(%d)", int(p))
}

// canRecv is false for the send-only protocols.
func (p Protocol) canRecv() bool { return p != Push && p != Pub }

func (p Protocol) newSocket() (mangos.Socket, error) {
	switch p {
	case Bus:
		return bus.NewSocket()
	case Pair:
		return pair.NewSocket()
	case Pull:
		return pull.NewSocket()
	case Push:
		return push.NewSocket()
	case Pub:
		return pub.NewSocket()
	case Sub:
		return sub.NewSocket()
	case Rep:
		return rep.NewSocket()
	case Req:
		return req.NewSocket()
	default:
		return nil, mangos.ErrBadProto
	}
}
