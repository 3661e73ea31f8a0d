package core

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatter/internal/config"
	"chatter/internal/protocol"
)

// writeTimeout bounds how long a single member write may block while the
// store lock is held.
const writeTimeout = 5 * time.Second

// Conn is the write side of one member connection. *net.TCPConn
// satisfies it; tests inject fakes. When the concrete value also has
// SetWriteDeadline, writes are bounded by writeTimeout.
type Conn interface {
	io.Writer
	io.Closer
}

// Reason classifies why a member is being removed.
type Reason int

const (
	ReasonQuit Reason = iota
	ReasonKicked
	ReasonEmpty
	ReasonAFK
	ReasonAbrupt
)

func (r Reason) String() string {
	switch r {
	case ReasonQuit:
		return "quit"
	case ReasonKicked:
		return "kicked"
	case ReasonEmpty:
		return "empty"
	case ReasonAFK:
		return "afk"
	case ReasonAbrupt:
		return "abrupt"
	}
	return "unknown"
}

type status int

const (
	statusInChannel status = iota
	statusInQueue
	statusMuted
)

// member is the per-user record inside one channel.
type member struct {
	name      string
	conn      Conn
	addr      string
	status    status
	muteUntil time.Time
}

// active reports whether the member occupies a channel seat.
func (m *member) active() bool {
	return m.status == statusInChannel || m.status == statusMuted
}

// channel is the mutable state of one configured channel. active and
// waiting hold usernames in seating and arrival order; members indexes
// every connected user of the channel by name.
type channel struct {
	desc    config.Channel
	active  []string
	waiting []string
	members map[string]*member
}

// Identity is one address-index entry: which user on which channel a
// remote address belongs to.
type Identity struct {
	User    string
	Channel string
}

// AdmitOutcome is the verdict of one admission attempt.
type AdmitOutcome int

const (
	AdmitSeated AdmitOutcome = iota
	AdmitQueued
	AdmitDuplicate
)

// AdmitResult carries the admission verdict and, when queued, how many
// waiters are ahead.
type AdmitResult struct {
	Outcome AdmitOutcome
	Ahead   int
}

// ChannelCount is a snapshot of one channel's occupancy.
type ChannelCount struct {
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Capacity int    `json:"capacity"`
	Active   int    `json:"active"`
	Queued   int    `json:"queued"`
}

// Store holds every channel's membership plus the address index. One
// mutex guards all of it, including the write side of every member
// connection, so each exported method is a single critical section and
// the externally visible event order of a channel is the lock
// acquisition order.
type Store struct {
	mu       sync.Mutex
	channels []*channel
	byName   map[string]*channel
	addrs    map[string]Identity

	sink Sink
	log  zerolog.Logger
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches an operational logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock replaces the store's time source. Mute deadlines and event
// timestamps come from it.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore builds the store for a validated channel table. Channel
// iteration order everywhere follows the table order.
func NewStore(table []config.Channel, sink Sink, opts ...Option) *Store {
	s := &Store{
		byName: make(map[string]*channel, len(table)),
		addrs:  make(map[string]Identity),
		sink:   sink,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, desc := range table {
		ch := &channel{desc: desc, members: make(map[string]*member)}
		s.channels = append(s.channels, ch)
		s.byName[desc.Name] = ch
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Announce emits the startup banner: one created line per channel in
// table order, then the welcome line. Called once all listeners are
// bound.
func (s *Store) Announce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		s.emit(Event{
			Kind:    KindStartup,
			Channel: ch.desc.Name,
			Line:    protocol.ChannelCreatedLine(ch.desc.Name, ch.desc.Port, ch.desc.Capacity),
		})
	}
	s.emit(Event{Kind: KindStartup, Line: protocol.WelcomeLine()})
}

// Admit seats or queues a new connection on channel i. On a free seat
// the caller's $01-JoinSuccess reply and the join announcement go out
// inside the same critical section; on a full channel the $01-InQueue
// reply does. On AdmitDuplicate nothing is written or registered and
// the caller owns the reply.
func (s *Store) Admit(i int, user, addr string, conn Conn) AdmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.channels[i]
	if _, exists := ch.members[user]; exists {
		s.log.Debug().Str("channel", ch.desc.Name).Str("user", user).Msg("duplicate username rejected")
		return AdmitResult{Outcome: AdmitDuplicate}
	}

	m := &member{name: user, conn: conn, addr: addr}
	ch.members[user] = m
	s.addrs[addr] = Identity{User: user, Channel: ch.desc.Name}

	if len(ch.active) < ch.desc.Capacity {
		m.status = statusInChannel
		ch.active = append(ch.active, user)
		s.writeLine(conn, protocol.AdmitSuccess(ch.desc.Name))
		line := protocol.JoinedMessage(user, ch.desc.Name)
		s.sendToActiveLocked(ch, line, user)
		s.emit(Event{Kind: KindJoin, Channel: ch.desc.Name, User: user, Line: line})
		s.log.Info().Str("channel", ch.desc.Name).Str("user", user).Int("active", len(ch.active)).Msg("user seated")
		return AdmitResult{Outcome: AdmitSeated}
	}

	ahead := len(ch.waiting)
	m.status = statusInQueue
	ch.waiting = append(ch.waiting, user)
	s.writeLine(conn, protocol.AdmitQueued(ahead))
	s.log.Info().Str("channel", ch.desc.Name).Str("user", user).Int("ahead", ahead).Msg("user queued")
	return AdmitResult{Outcome: AdmitQueued, Ahead: ahead}
}

// Disconnect removes user from channelName. Unknown channel or user is a
// no-op, so racing disconnect paths collapse to one removal. A departing
// seat holder frees the seat and pulls waiters in; a departing waiter
// renumbers everyone behind it.
func (s *Store) Disconnect(channelName, user string, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return
	}
	m := ch.members[user]
	if m == nil {
		return
	}
	s.disconnectLocked(ch, m, reason)
}

func (s *Store) disconnectLocked(ch *channel, m *member, reason Reason) {
	_ = m.conn.Close()

	if m.active() {
		ch.active = removeName(ch.active, m.name)
		switch reason {
		case ReasonAFK:
			s.emit(Event{Kind: KindAFK, Channel: ch.desc.Name, User: m.name})
		case ReasonEmpty:
			// the channel-wide emptied event covers it
		default:
			line := protocol.LeftMessage(m.name)
			s.sendToActiveLocked(ch, line, "")
			s.emit(Event{Kind: KindLeave, Channel: ch.desc.Name, User: m.name, Line: line})
		}
		s.promoteLocked(ch)
	} else {
		pos := indexOf(ch.waiting, m.name)
		ch.waiting = removeName(ch.waiting, m.name)
		if pos >= 0 {
			s.renumberQueueLocked(ch, pos)
		}
		if reason == ReasonAFK {
			s.emit(Event{Kind: KindAFK, Channel: ch.desc.Name, User: m.name})
		}
	}

	delete(ch.members, m.name)
	delete(s.addrs, m.addr)
	s.log.Info().Str("channel", ch.desc.Name).Str("user", m.name).Stringer("reason", reason).Msg("user removed")
}

// promoteLocked moves waiters into free seats in arrival order. Each
// promoted waiter gets its $02-JoinSuccess before the channel hears the
// join announcement.
func (s *Store) promoteLocked(ch *channel) {
	for len(ch.active) < ch.desc.Capacity && len(ch.waiting) > 0 {
		name := ch.waiting[0]
		ch.waiting = ch.waiting[1:]
		m := ch.members[name]
		if m == nil {
			continue
		}
		m.status = statusInChannel
		ch.active = append(ch.active, name)
		s.writeLine(m.conn, protocol.PromoteSuccess(ch.desc.Name))
		line := protocol.JoinedMessage(name, ch.desc.Name)
		s.sendToActiveLocked(ch, line, name)
		s.emit(Event{Kind: KindJoin, Channel: ch.desc.Name, User: name, Line: line})
		s.log.Info().Str("channel", ch.desc.Name).Str("user", name).Msg("waiter promoted")
	}
}

// renumberQueueLocked tells every waiter at or behind pos its new
// position.
func (s *Store) renumberQueueLocked(ch *channel, pos int) {
	for p := pos; p < len(ch.waiting); p++ {
		if m := ch.members[ch.waiting[p]]; m != nil {
			s.writeLine(m.conn, protocol.QueuePosition(p))
		}
	}
}

// Chat delivers a plain chat line to the whole channel, sender included.
// Queued senders are dropped silently. A muted sender is told the
// remaining seconds instead; once the deadline has passed the mute
// clears and the line goes through.
func (s *Store) Chat(channelName, user, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return
	}
	m := ch.members[user]
	if m == nil {
		return
	}
	if m.status == statusInQueue {
		return
	}
	if m.status == statusMuted {
		if remaining := m.muteUntil.Sub(s.now()); remaining > 0 {
			secs := int((remaining + time.Second - 1) / time.Second)
			s.writeLine(m.conn, protocol.MuteRemaining(secs))
			return
		}
		m.status = statusInChannel
		s.log.Debug().Str("channel", ch.desc.Name).Str("user", user).Msg("mute expired")
	}

	line := protocol.ChatMessage(user, text)
	s.sendToActiveLocked(ch, line, "")
	s.emit(Event{Kind: KindChat, Channel: ch.desc.Name, User: user, Line: line})
}

// Whisper sends a private line from one member to another member of the
// same channel. The sender gets a local echo; nobody else on the channel
// sees anything. Whispering to yourself just produces the incoming form
// locally.
func (s *Store) Whisper(channelName, from, to, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return
	}
	m := ch.members[from]
	if m == nil {
		return
	}
	if to == from {
		s.writeLine(m.conn, protocol.WhisperMessage(from, text))
		return
	}
	target := ch.members[to]
	if target == nil || !target.active() {
		s.writeLine(m.conn, protocol.NotInChannelMessage(to))
		return
	}
	s.writeLine(target.conn, protocol.WhisperMessage(from, text))
	echo := protocol.WhisperEchoMessage(from, to, text)
	s.writeLine(m.conn, echo)
	s.emit(Event{Kind: KindWhisper, Channel: ch.desc.Name, User: from, Line: echo})
}

// OfferFile notifies a channel member that from wants to send it a file.
// Delivery failures surface exactly like whisper's: the sender is told
// when the target is not in the channel.
func (s *Store) OfferFile(channelName, from, to, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return
	}
	m := ch.members[from]
	if m == nil {
		return
	}
	target := ch.members[to]
	if target == nil || !target.active() {
		s.writeLine(m.conn, protocol.NotInChannelMessage(to))
		return
	}
	s.writeLine(target.conn, protocol.FileOfferMessage(from, path))
}

// Switch validates a channel change request. The requester only hears
// back on failure: unknown target channel or a username clash over
// there. On success the client tears down and redials the target port on
// its own.
func (s *Store) Switch(channelName, user, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return
	}
	m := ch.members[user]
	if m == nil {
		return
	}
	tch := s.byName[target]
	if tch == nil {
		s.writeLine(m.conn, protocol.NoSuchChannelMessage(target))
		return
	}
	if _, clash := tch.members[user]; clash {
		s.writeLine(m.conn, protocol.UserDup(target))
		return
	}
}

// ListChannels sends the requester one status line per configured
// channel, in table order, as one atomic snapshot.
func (s *Store) ListChannels(channelName, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return
	}
	m := ch.members[user]
	if m == nil {
		return
	}
	for _, c := range s.channels {
		s.writeLine(m.conn, protocol.ChannelStatusLine(c.desc.Name, c.desc.Port, len(c.active), c.desc.Capacity, len(c.waiting)))
	}
}

// EvictIdle removes a member that hit the idle deadline. Seat holders
// are announced to the rest of the channel; waiters go quietly. The
// member itself gets the $AFK marker before the connection drops.
func (s *Store) EvictIdle(channelName, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return
	}
	m := ch.members[user]
	if m == nil {
		return
	}
	if m.active() {
		s.sendToActiveLocked(ch, protocol.AFKMessage(user, ch.desc.Name), user)
	}
	s.writeLine(m.conn, protocol.MarkerAFK)
	s.disconnectLocked(ch, m, ReasonAFK)
}

// Kick tells a seated member to leave. The member answers with
// $Quit-kicked, and that round trip is what actually frees the seat.
func (s *Store) Kick(channelName, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", channelName)
	}
	m := ch.members[user]
	if m == nil || !m.active() {
		return fmt.Errorf("user %q is not active in channel %q", user, channelName)
	}
	s.emit(Event{Kind: KindKick, Channel: channelName, User: user, Line: protocol.KickedMessage(user)})
	s.writeLine(m.conn, protocol.MarkerKick)
	s.log.Info().Str("channel", channelName).Str("user", user).Msg("user kicked")
	return nil
}

// EmptyChannel drops every seated member of a channel at once. Each one
// gets the $Empty marker and an immediate close; waiters then flow into
// the freed seats.
func (s *Store) EmptyChannel(channelName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.byName[channelName]
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", channelName)
	}
	for _, name := range ch.active {
		m := ch.members[name]
		if m == nil {
			continue
		}
		s.writeLine(m.conn, protocol.MarkerEmpty)
		_ = m.conn.Close()
		delete(ch.members, name)
		delete(s.addrs, m.addr)
	}
	dropped := len(ch.active)
	ch.active = ch.active[:0]
	s.emit(Event{Kind: KindEmpty, Channel: channelName, Line: protocol.EmptiedMessage(channelName)})
	s.promoteLocked(ch)
	s.log.Info().Str("channel", channelName).Int("dropped", dropped).Msg("channel emptied")
	return nil
}

// Mute silences a seated member for the given number of seconds. The
// target learns the duration, the rest of the channel hears about it,
// and chat from the target bounces with the remaining time until the
// deadline passes.
func (s *Store) Mute(channelName, user string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seconds < 1 {
		return fmt.Errorf("mute duration %d is not positive", seconds)
	}
	ch := s.byName[channelName]
	if ch == nil {
		return fmt.Errorf("channel %q does not exist", channelName)
	}
	m := ch.members[user]
	if m == nil || !m.active() {
		return fmt.Errorf("user %q is not active in channel %q", user, channelName)
	}
	m.status = statusMuted
	m.muteUntil = s.now().Add(time.Duration(seconds) * time.Second)
	s.emit(Event{Kind: KindMute, Channel: channelName, User: user, Line: protocol.MutedMessage(user, seconds)})
	s.writeLine(m.conn, protocol.MuteNotice(seconds))
	s.sendToActiveLocked(ch, protocol.MuteBroadcast(user, seconds), user)
	s.log.Info().Str("channel", channelName).Str("user", user).Int("seconds", seconds).Msg("user muted")
	return nil
}

// Resolve maps a remote address back to the user and channel it
// registered under.
func (s *Store) Resolve(addr string) (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.addrs[addr]
	return id, ok
}

// Counts samples every channel's occupancy in table order.
func (s *Store) Counts() []ChannelCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make([]ChannelCount, 0, len(s.channels))
	for _, ch := range s.channels {
		counts = append(counts, ChannelCount{
			Name:     ch.desc.Name,
			Port:     ch.desc.Port,
			Capacity: ch.desc.Capacity,
			Active:   len(ch.active),
			Queued:   len(ch.waiting),
		})
	}
	return counts
}

// Members returns copies of a channel's seating and waiting sequences.
func (s *Store) Members(channelName string) (active, waiting []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.byName[channelName]
	if ch == nil {
		return nil, nil, false
	}
	return append([]string(nil), ch.active...), append([]string(nil), ch.waiting...), true
}

// sendToActiveLocked writes one line to every seated member except the
// named one. An empty except sends to everyone.
func (s *Store) sendToActiveLocked(ch *channel, line, except string) {
	for _, name := range ch.active {
		if name == except {
			continue
		}
		if m := ch.members[name]; m != nil {
			s.writeLine(m.conn, line)
		}
	}
}

// writeLine sends one framed line to a single connection. Failures only
// affect that recipient: the error is logged and swallowed so one dead
// or stalled socket cannot sink a broadcast.
func (s *Store) writeLine(c Conn, line string) {
	if d, ok := c.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if _, err := io.WriteString(c, line+"\n"); err != nil {
		s.log.Debug().Err(err).Msg("member write dropped")
	}
}

func removeName(list []string, name string) []string {
	for i, n := range list {
		if n == name {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func indexOf(list []string, name string) int {
	for i, n := range list {
		if n == name {
			return i
		}
	}
	return -1
}

// emit stamps and forwards one event. Nil sink drops it.
func (s *Store) emit(ev Event) {
	if s.sink == nil {
		return
	}
	ev.At = s.now()
	s.sink.Emit(ev)
}
