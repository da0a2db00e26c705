// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package irc connects the bridge to a single IRC channel. Client speaks the
// wire protocol and turns channel messages into events; Relay renders
// Discord events back into channel lines.
package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"golang.org/x/time/rate"

	"github.com/aiku/chat-bridge/pkg/events"
)

// SourceName tags events produced by the IRC adapter.
const SourceName = "irc"

// MaxLineBytes bounds the text carried by a single PRIVMSG.
const MaxLineBytes = 400

const (
	readTimeout  = 5 * time.Minute
	writeTimeout = 30 * time.Second
	dialTimeout  = 30 * time.Second
	backoffStep  = 10 * time.Second
	maxBackoff   = 5 * time.Minute
	saslChunk    = 400
)

// ErrNotConnected is returned by Say while no session is registered.
var ErrNotConnected = errors.New("not connected to IRC")

// Config holds the connection and relay settings of the IRC side.
type Config struct {
	Server       string
	Port         int
	TLS          bool
	Nick         string
	Realname     string
	Channel      string
	SASLUsername string
	SASLPassword string
	IgnoreUsers  []string

	MessagesPerSecond float64
	Burst             int
}

// Addr returns the host:port to dial.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

func (c Config) useSASL() bool {
	return c.SASLUsername != "" && c.SASLPassword != ""
}

// connectionChanged reports whether switching from c to other needs a new
// connection.
func (c Config) connectionChanged(other Config) bool {
	return c.Server != other.Server || c.Port != other.Port || c.TLS != other.TLS ||
		c.Nick != other.Nick || c.Realname != other.Realname || !strings.EqualFold(c.Channel, other.Channel) ||
		c.SASLUsername != other.SASLUsername || c.SASLPassword != other.SASLPassword
}

// eventDispatcher is the slice of events.Dispatcher the client needs.
type eventDispatcher interface {
	Dispatch(source string, evt events.Event)
}

// Client is a single IRC connection joined to one channel. It reconnects
// on its own from Run.
type Client struct {
	cfg      Config
	log      zerolog.Logger
	dispatch eventDispatcher
	dial     func(ctx context.Context) (net.Conn, error)
	limiter  *rate.Limiter
	ignore   *exsync.Set[string]
	members  *exsync.Map[string, string]
	joined   *exsync.Event

	backoffStep time.Duration

	mu   sync.Mutex
	sess *session
	nick string
}

type session struct {
	conn       net.Conn
	writeLock  sync.Mutex
	w          *bufio.Writer
	registered atomic.Bool
}

func (s *session) send(msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if _, err := s.w.WriteString(msg.String() + "\r\n"); err != nil {
		return errors.Wrapf(err, "write %s", msg.Command)
	}
	return errors.Wrapf(s.w.Flush(), "flush %s", msg.Command)
}

// NewClient creates a client. It does not connect until Run is called.
func NewClient(cfg Config, dispatch eventDispatcher, log zerolog.Logger) *Client {
	c := &Client{
		cfg:         cfg,
		log:         log.With().Str("component", "irc_client").Logger(),
		dispatch:    dispatch,
		limiter:     rate.NewLimiter(sendLimit(cfg.MessagesPerSecond), max(cfg.Burst, 1)),
		ignore:      exsync.NewSet[string](),
		members:     exsync.NewMap[string, string](),
		joined:      exsync.NewEvent(),
		backoffStep: backoffStep,
		nick:        cfg.Nick,
	}
	c.dial = c.defaultDial
	c.SetIgnoreUsers(cfg.IgnoreUsers)
	return c
}

func sendLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func (c *Client) defaultDial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	if c.cfg.TLS {
		td := &tls.Dialer{
			NetDialer: d,
			Config:    &tls.Config{ServerName: c.cfg.Server, MinVersion: tls.VersionTLS12},
		}
		return td.DialContext(ctx, "tcp", c.cfg.Addr())
	}
	return d.DialContext(ctx, "tcp", c.cfg.Addr())
}

// Channel returns the bridged channel name.
func (c *Client) Channel() string {
	return c.cfg.Channel
}

// Connected reports whether the client is currently in the channel.
func (c *Client) Connected() bool {
	return c.joined.IsSet()
}

// WaitJoined blocks until the client has joined the channel.
func (c *Client) WaitJoined(ctx context.Context) error {
	return c.joined.Wait(ctx)
}

// Nicks returns a snapshot of the channel member list.
func (c *Client) Nicks() []string {
	nicks := make([]string, 0, c.members.Len())
	for _, nick := range c.members.Iter() {
		nicks = append(nicks, nick)
	}
	slices.Sort(nicks)
	return nicks
}

// SetIgnoreUsers replaces the list of nicks whose messages are not relayed.
// Matching is case-insensitive.
func (c *Client) SetIgnoreUsers(nicks []string) {
	set := exsync.NewSetWithSize[string](len(nicks))
	for _, nick := range nicks {
		set.Add(strings.ToLower(nick))
	}
	c.ignore.ReplaceAll(set)
}

// Reconfigure applies the settings that can change on a live connection.
// It reports whether the remaining changes need a restart.
func (c *Client) Reconfigure(cfg Config) (restartRequired bool) {
	c.SetIgnoreUsers(cfg.IgnoreUsers)
	c.limiter.SetLimit(sendLimit(cfg.MessagesPerSecond))
	c.limiter.SetBurst(max(cfg.Burst, 1))
	return c.cfg.connectionChanged(cfg)
}

func (c *Client) currentNick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

func (c *Client) setNick(nick string) {
	c.mu.Lock()
	c.nick = nick
	c.mu.Unlock()
}

func (c *Client) isSelf(nick string) bool {
	return strings.EqualFold(nick, c.currentNick())
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) attach(sess *session) {
	c.mu.Lock()
	c.sess = sess
	c.nick = c.cfg.Nick
	c.mu.Unlock()
}

func (c *Client) detach(sess *session) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
	c.joined.Clear()
	c.members.Clear()
	_ = sess.conn.Close()
}

// Run keeps the client connected until ctx is cancelled. Reconnect delays
// grow linearly with each failed attempt and reset once a connection
// completes registration.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		registered, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if registered {
			attempt = 0
		}
		attempt++
		delay := c.reconnectDelay(attempt)
		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Stringer("delay", delay).
			Msg("IRC connection lost, reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) reconnectDelay(attempt int) time.Duration {
	return min(time.Duration(attempt)*c.backoffStep, maxBackoff)
}

func (c *Client) runOnce(ctx context.Context) (bool, error) {
	c.log.Info().
		Str("addr", c.cfg.Addr()).
		Bool("tls", c.cfg.TLS).
		Bool("sasl", c.cfg.useSASL()).
		Str("nick", c.cfg.Nick).
		Str("channel", c.cfg.Channel).
		Msg("Connecting to IRC")

	conn, err := c.dial(ctx)
	if err != nil {
		return false, errors.Wrap(err, "dial")
	}
	sess := &session{conn: conn, w: bufio.NewWriter(conn)}
	c.attach(sess)
	defer c.detach(sess)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err = c.register(sess); err != nil {
		return false, err
	}

	reader := bufio.NewReader(conn)
	pinged := false
	for {
		if err = conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return sess.registered.Load(), errors.Wrap(err, "set read deadline")
		}
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			var ne net.Error
			if errors.As(readErr, &ne) && ne.Timeout() && !pinged {
				pinged = true
				if err = sess.send(&Message{Command: "PING", Params: []string{"keepalive"}}); err != nil {
					return sess.registered.Load(), err
				}
				continue
			}
			return sess.registered.Load(), errors.Wrap(readErr, "read")
		}
		pinged = false
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, parseErr := ParseMessage(line)
		if parseErr != nil {
			c.log.Debug().Err(parseErr).Msg("Ignoring malformed IRC line")
			continue
		}
		if err = c.handle(sess, msg); err != nil {
			return sess.registered.Load(), err
		}
	}
}

func (c *Client) register(sess *session) error {
	if c.cfg.useSASL() {
		if err := sess.send(&Message{Command: "CAP", Params: []string{"REQ", "sasl"}}); err != nil {
			return err
		}
	}
	if err := sess.send(&Message{Command: "NICK", Params: []string{c.cfg.Nick}}); err != nil {
		return err
	}
	realname := c.cfg.Realname
	if realname == "" {
		realname = c.cfg.Nick
	}
	return sess.send(&Message{Command: "USER", Params: []string{c.cfg.Nick, "0", "*", realname}})
}

func (c *Client) handle(sess *session, msg *Message) error {
	switch msg.Command {
	case "PING":
		return sess.send(&Message{Command: "PONG", Params: msg.Params})
	case "ERROR":
		return errors.Errorf("server closed the link: %s", msg.Param(0))
	case "CAP":
		return c.handleCap(sess, msg)
	case "AUTHENTICATE":
		if msg.Param(0) != "+" {
			return nil
		}
		for _, chunk := range saslPlainPayload(c.cfg.SASLUsername, c.cfg.SASLPassword) {
			if err := sess.send(&Message{Command: "AUTHENTICATE", Params: []string{chunk}}); err != nil {
				return err
			}
		}
	case "903":
		c.log.Debug().Msg("SASL authentication succeeded")
		return sess.send(&Message{Command: "CAP", Params: []string{"END"}})
	case "902", "904", "905", "906":
		_ = sess.send(&Message{Command: "CAP", Params: []string{"END"}})
		return errors.Errorf("SASL authentication failed: %s %s", msg.Command, msg.Param(len(msg.Params)-1))
	case "001":
		sess.registered.Store(true)
		c.setNick(msg.Param(0))
		c.log.Info().Str("nick", msg.Param(0)).Msg("Registered with IRC server")
		return sess.send(&Message{Command: "JOIN", Params: []string{c.cfg.Channel}})
	case "433":
		if sess.registered.Load() {
			return nil
		}
		nick := c.currentNick() + "_"
		c.setNick(nick)
		c.log.Warn().Str("nick", nick).Msg("Nickname in use, retrying")
		return sess.send(&Message{Command: "NICK", Params: []string{nick}})
	case "353":
		if !strings.EqualFold(msg.Param(2), c.cfg.Channel) {
			return nil
		}
		for _, name := range strings.Fields(msg.Param(3)) {
			c.addMember(stripNickPrefix(name))
		}
	case "366":
		c.log.Debug().Int("members", c.members.Len()).Msg("Received channel member list")
	case "JOIN":
		c.handleJoin(msg)
	case "PART":
		if !strings.EqualFold(msg.Param(0), c.cfg.Channel) {
			return nil
		}
		if c.isSelf(msg.Nick()) {
			c.leftChannel("Left IRC channel")
			return nil
		}
		c.removeMember(msg.Nick())
	case "KICK":
		if !strings.EqualFold(msg.Param(0), c.cfg.Channel) {
			return nil
		}
		if c.isSelf(msg.Param(1)) {
			c.leftChannel("Kicked from IRC channel, rejoining")
			return sess.send(&Message{Command: "JOIN", Params: []string{c.cfg.Channel}})
		}
		c.removeMember(msg.Param(1))
	case "QUIT":
		c.removeMember(msg.Nick())
	case "NICK":
		c.renameMember(msg.Nick(), msg.Param(0))
	case "PRIVMSG":
		c.handlePrivmsg(msg)
	}
	return nil
}

func (c *Client) handleCap(sess *session, msg *Message) error {
	switch strings.ToUpper(msg.Param(1)) {
	case "ACK":
		if slices.Contains(strings.Fields(msg.Param(2)), "sasl") {
			return sess.send(&Message{Command: "AUTHENTICATE", Params: []string{"PLAIN"}})
		}
	case "NAK":
		c.log.Warn().Msg("IRC server refused SASL, continuing without authentication")
		return sess.send(&Message{Command: "CAP", Params: []string{"END"}})
	}
	return nil
}

// saslPlainPayload encodes PLAIN credentials split into AUTHENTICATE-sized
// chunks. A payload that fills its last chunk exactly is terminated by "+".
func saslPlainPayload(user, pass string) []string {
	enc := base64.StdEncoding.EncodeToString([]byte(user + "\x00" + user + "\x00" + pass))
	var chunks []string
	for len(enc) >= saslChunk {
		chunks = append(chunks, enc[:saslChunk])
		enc = enc[saslChunk:]
	}
	if enc == "" {
		enc = "+"
	}
	return append(chunks, enc)
}

func (c *Client) handleJoin(msg *Message) {
	if !strings.EqualFold(msg.Param(0), c.cfg.Channel) {
		return
	}
	nick := msg.Nick()
	if c.isSelf(nick) {
		c.members.Clear()
		c.joined.Set()
		c.log.Info().Str("channel", c.cfg.Channel).Msg("Joined IRC channel")
	}
	c.addMember(nick)
}

func (c *Client) leftChannel(reason string) {
	c.joined.Clear()
	c.members.Clear()
	c.log.Warn().Str("channel", c.cfg.Channel).Msg(reason)
}

func (c *Client) addMember(nick string) {
	if nick != "" {
		c.members.Set(strings.ToLower(nick), nick)
	}
}

func (c *Client) removeMember(nick string) {
	c.members.Delete(strings.ToLower(nick))
}

func (c *Client) renameMember(from, to string) {
	if c.isSelf(from) {
		c.setNick(to)
	}
	if _, ok := c.members.Pop(strings.ToLower(from)); ok {
		c.addMember(to)
	}
}

func (c *Client) handlePrivmsg(msg *Message) {
	if !strings.EqualFold(msg.Param(0), c.cfg.Channel) {
		return
	}
	nick := msg.Nick()
	if c.isSelf(nick) {
		return
	}
	if c.ignore.Has(strings.ToLower(nick)) {
		c.log.Debug().Str("nick", nick).Msg("Ignoring message from ignored user")
		return
	}
	text := msg.Param(1)
	action := false
	if command, arg, ok := parseCTCP(text); ok {
		if command != "ACTION" {
			c.log.Debug().Str("nick", nick).Str("ctcp", command).Msg("Ignoring CTCP message")
			return
		}
		text, action = arg, true
	}
	c.dispatch.Dispatch(SourceName, events.NewIRCMessage(nick, text, action))
}

// Say sends text to target, one PRIVMSG per line. Each line waits for the
// flood-control limiter.
func (c *Client) Say(ctx context.Context, target, text string) error {
	for _, line := range SplitText(text, MaxLineBytes) {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for send budget: %w", err)
		}
		sess := c.session()
		if sess == nil || !sess.registered.Load() {
			return ErrNotConnected
		}
		if err := sess.send(&Message{Command: "PRIVMSG", Params: []string{target, line}}); err != nil {
			return err
		}
	}
	return nil
}
