package socket

import (
	"errors"
	"strings"
	"time"

	"go.nanomsg.org/mangos/v3"
)

// Option names accepted by the typed option accessors of [Socket].
const (
	OptionRecvTimeout  = "recv-timeout"
	OptionSendTimeout  = "send-timeout"
	OptionRecvBuffer   = "recv-buffer"
	OptionSendBuffer   = "send-buffer"
	OptionRecvMaxSize  = "recv-size-max"
	OptionReconnectMin = "reconnect-time-min"
	OptionReconnectMax = "reconnect-time-max"
	OptionResendTime   = "req:resend-time"
	OptionSubscribe    = "sub:subscribe"
	OptionUnsubscribe  = "sub:unsubscribe"
	OptionSocketName   = "socket-name"
	OptionProtocol     = "protocol"
	OptionPeer         = "peer"
	OptionProtocolName = "protocol-name"
	OptionPeerName     = "peer-name"
	OptionRaw          = "raw"
	OptionTCPNoDelay   = "tcp-nodelay"
	OptionTCPKeepAlive = "tcp-keepalive"
	OptionMaxTTL       = "ttl-max"
)

const (
	durationNameSuffix  = ":ms"
	transportTCPPrefix  = "tcp://"
	transportTCP4Prefix = "tcp4://"
	transportTCP6Prefix = "tcp6://"
)

var (
	durationOptions = map[string]string{
		OptionRecvTimeout:  mangos.OptionRecvDeadline,
		OptionSendTimeout:  mangos.OptionSendDeadline,
		OptionReconnectMin: mangos.OptionReconnectTime,
		OptionReconnectMax: mangos.OptionMaxReconnectTime,
		OptionResendTime:   mangos.OptionRetryTime,
	}
	intOptions = map[string]string{
		OptionRecvBuffer:  mangos.OptionReadQLen,
		OptionSendBuffer:  mangos.OptionWriteQLen,
		OptionRecvMaxSize: mangos.OptionMaxRecvSize,
		OptionMaxTTL:      mangos.OptionTTL,
	}
	transportOptions = map[string]string{
		OptionTCPNoDelay:   mangos.OptionNoDelay,
		OptionTCPKeepAlive: mangos.OptionKeepAlive,
	}
)

// IsDurationOption reports whether name takes a duration, expressed in
// milliseconds by the host-language surface.
func IsDurationOption(name string) bool {
	if _, ok := durationOptions[name]; ok {
		return true
	}
	return strings.HasSuffix(name, durationNameSuffix)
}

// SetOptionMs sets a duration option. A negative recv-timeout or
// send-timeout means no timeout, which is also the default.
func (s *Socket) SetOptionMs(name string, d time.Duration) error {
	mname, ok := durationOptions[name]
	if !ok {
		return s.optionError("setopt", name)
	}
	switch name {
	case OptionRecvTimeout:
		s.mu.Lock()
		s.recvTimeout = d
		s.mu.Unlock()
		if s.protocol == Req {
			return s.setMangos(mname, max(d, 0))
		}
		if !s.protocol.canRecv() {
			return nil
		}
		return s.setMangos(mname, s.pollDeadline(d))
	case OptionSendTimeout:
		s.mu.Lock()
		s.sendTimeout = d
		s.mu.Unlock()
		return s.setMangos(mname, max(d, 0))
	default:
		if d < 0 {
			return wrapError("setopt", mangos.ErrBadValue)
		}
		return s.setMangos(mname, d)
	}
}

// pollDeadline is the receive deadline armed on the underlying socket, for a
// given recv-timeout. It never exceeds the poll interval.
func (s *Socket) pollDeadline(timeout time.Duration) time.Duration {
	if timeout > 0 && timeout < s.poll {
		return timeout
	}
	return s.poll
}

// SetOptionInt sets an integer option. Duration options are accepted too,
// the value being taken as milliseconds.
func (s *Socket) SetOptionInt(name string, v int) error {
	if _, ok := durationOptions[name]; ok {
		return s.SetOptionMs(name, time.Duration(v)*time.Millisecond)
	}
	mname, ok := intOptions[name]
	if !ok {
		return s.optionError("setopt", name)
	}
	if v < 0 {
		return wrapError("setopt", mangos.ErrBadValue)
	}
	return s.setMangos(mname, v)
}

// SetOptionBool sets a boolean option. TCP options are recorded on the
// socket and applied to every tcp dialer and listener created afterwards.
func (s *Socket) SetOptionBool(name string, v bool) error {
	if mname, ok := transportOptions[name]; ok {
		s.mu.Lock()
		if s.transport == nil {
			s.transport = make(map[string]interface{})
		}
		s.transport[mname] = v
		s.mu.Unlock()
		return nil
	}
	if name == OptionRaw {
		return wrapError("setopt", mangos.ErrBadOption)
	}
	return s.optionError("setopt", name)
}

// SetOptionString sets a string option.
func (s *Socket) SetOptionString(name, v string) error {
	switch name {
	case OptionSocketName:
		s.mu.Lock()
		s.name = v
		s.mu.Unlock()
		return nil
	case OptionSubscribe, OptionUnsubscribe:
		return s.SetOptionBytes(name, []byte(v))
	}
	return s.optionError("setopt", name)
}

// SetOptionBytes sets a binary option, i.e. a subscription topic.
func (s *Socket) SetOptionBytes(name string, v []byte) error {
	switch name {
	case OptionSubscribe:
		return s.setMangos(mangos.OptionSubscribe, v)
	case OptionUnsubscribe:
		return s.setMangos(mangos.OptionUnsubscribe, v)
	}
	return s.optionError("setopt", name)
}

// GetOptionMs gets a duration option.
func (s *Socket) GetOptionMs(name string) (time.Duration, error) {
	switch name {
	case OptionRecvTimeout:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.recvTimeout, nil
	case OptionSendTimeout:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.sendTimeout, nil
	}
	mname, ok := durationOptions[name]
	if !ok {
		return 0, s.optionError("getopt", name)
	}
	v, err := s.sock.GetOption(mname)
	if err != nil {
		return 0, wrapError("getopt", err)
	}
	d, ok := v.(time.Duration)
	if !ok {
		return 0, &Error{Op: "getopt", Code: EBADTYPE, Err: mangos.ErrBadValue}
	}
	return d, nil
}

// GetOptionInt gets an integer option.
func (s *Socket) GetOptionInt(name string) (int, error) {
	switch name {
	case OptionProtocol:
		return int(s.sock.Info().Self), nil
	case OptionPeer:
		return int(s.sock.Info().Peer), nil
	}
	mname, ok := intOptions[name]
	if !ok {
		return 0, s.optionError("getopt", name)
	}
	v, err := s.sock.GetOption(mname)
	if err != nil {
		return 0, wrapError("getopt", err)
	}
	i, ok := v.(int)
	if !ok {
		return 0, &Error{Op: "getopt", Code: EBADTYPE, Err: mangos.ErrBadValue}
	}
	return i, nil
}

// GetOptionBool gets a boolean option.
func (s *Socket) GetOptionBool(name string) (bool, error) {
	if mname, ok := transportOptions[name]; ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		v, _ := s.transport[mname].(bool)
		return v, nil
	}
	if name == OptionRaw {
		v, err := s.sock.GetOption(mangos.OptionRaw)
		if err != nil {
			return false, wrapError("getopt", err)
		}
		b, _ := v.(bool)
		return b, nil
	}
	return false, s.optionError("getopt", name)
}

// GetOptionString gets a string option.
func (s *Socket) GetOptionString(name string) (string, error) {
	switch name {
	case OptionSocketName:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.name, nil
	case OptionProtocolName:
		return s.sock.Info().SelfName, nil
	case OptionPeerName:
		return s.sock.Info().PeerName, nil
	}
	return "", s.optionError("getopt", name)
}

// optionError distinguishes a known option used with the wrong type from an
// unknown option.
func (s *Socket) optionError(op, name string) error {
	if knownOption(name) {
		return &Error{Op: op, Code: EBADTYPE, Err: mangos.ErrBadValue}
	}
	return &Error{Op: op, Code: ENOTSUP, Err: mangos.ErrBadOption}
}

func knownOption(name string) bool {
	if _, ok := durationOptions[name]; ok {
		return true
	}
	if _, ok := intOptions[name]; ok {
		return true
	}
	if _, ok := transportOptions[name]; ok {
		return true
	}
	switch name {
	case OptionSubscribe, OptionUnsubscribe, OptionSocketName, OptionProtocol,
		OptionPeer, OptionProtocolName, OptionPeerName, OptionRaw:
		return true
	}
	return false
}

// setMangos sets a mangos option on the socket, and on the current request
// context of a REQ socket, which does not observe later socket level changes.
func (s *Socket) setMangos(name string, v interface{}) error {
	if err := s.sock.SetOption(name, v); err != nil {
		return wrapError("setopt", err)
	}
	if s.protocol != Req {
		return nil
	}
	s.mu.Lock()
	c := s.reqCtx
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.SetOption(name, v); err != nil && !errors.Is(err, mangos.ErrBadOption) {
		return wrapError("setopt", err)
	}
	return nil
}

// transportOptionsFor returns the recorded transport options if url uses a
// transport that accepts them, or nil.
func (s *Socket) transportOptionsFor(url string) map[string]interface{} {
	if !strings.HasPrefix(url, transportTCPPrefix) &&
		!strings.HasPrefix(url, transportTCP4Prefix) &&
		!strings.HasPrefix(url, transportTCP6Prefix) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transport) == 0 {
		return nil
	}
	opts := make(map[string]interface{}, len(s.transport))
	for k, v := range s.transport {
		opts[k] = v
	}
	return opts
}
