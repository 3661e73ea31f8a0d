// Package protocol defines the line-oriented wire protocol spoken between
// chatserver and chatclient: the control-marker corpus, record
// classification, and the exact display lines both programs print.
//
// Every record is a newline-terminated line. Records beginning with "$"
// are control markers, records beginning with "/" are commands, and
// everything else is chat. Argument-carrying markers use the form
// "<marker>: <argument>".
package protocol

import (
	"fmt"
	"strings"
)

// Control markers. Client→server: MarkerUser through MarkerJoined.
// Server→client: MarkerUserError through MarkerAFK.
const (
	MarkerUser       = "$User"
	MarkerQuit       = "$Quit"
	MarkerQuitKicked = "$Quit-kicked"
	MarkerList       = "$List"
	MarkerJoined     = "$Joined"

	MarkerUserError  = "$UserError"
	MarkerUserDup    = "$UserDup"
	MarkerJoinFirst  = "$01-JoinSuccess"
	MarkerJoinLater  = "$02-JoinSuccess"
	MarkerQueueFirst = "$01-InQueue"
	MarkerQueueLater = "$02-InQueue"
	MarkerKick       = "$Kick"
	MarkerEmpty      = "$Empty"
	MarkerAFK        = "$AFK"
)

// Kind classifies one record.
type Kind int

const (
	KindControl Kind = iota
	KindCommand
	KindChat
)

// Classify reports the kind of a record (without its trailing newline).
func Classify(line string) Kind {
	switch {
	case strings.HasPrefix(line, "$"):
		return KindControl
	case strings.HasPrefix(line, "/"):
		return KindCommand
	default:
		return KindChat
	}
}

// Control is one parsed control record.
type Control struct {
	Marker string
	Arg    string
}

// ParseControl splits a control record into marker and argument. The
// second return is false when the record is not a control record at all.
// A marker with a colon but no ": " separator keeps the colon in Marker
// and will not match any known constant, which is what strict dispatch
// wants.
func ParseControl(line string) (Control, bool) {
	if !strings.HasPrefix(line, "$") {
		return Control{}, false
	}
	if marker, arg, ok := strings.Cut(line, ": "); ok {
		return Control{Marker: marker, Arg: arg}, true
	}
	return Control{Marker: line}, true
}

// --- control record builders ---

// UserHello is the client's first record on a new connection.
func UserHello(username string) string {
	return MarkerUser + ": " + username
}

// UserError rejects a duplicate username at admission.
func UserError(channel string) string {
	return MarkerUserError + ": " + channel
}

// UserDup reports a duplicate username in a /switch target channel.
func UserDup(channel string) string {
	return MarkerUserDup + ": " + channel
}

// AdmitSuccess confirms the initial admission into a channel.
func AdmitSuccess(channel string) string {
	return MarkerJoinFirst + ": " + channel
}

// PromoteSuccess confirms a later promotion out of the waiting queue.
func PromoteSuccess(channel string) string {
	return MarkerJoinLater + ": " + channel
}

// AdmitQueued tells a newly connected client how many waiters are ahead.
func AdmitQueued(ahead int) string {
	return fmt.Sprintf("%s: %d", MarkerQueueFirst, ahead)
}

// QueuePosition tells an existing waiter its position after a departure.
func QueuePosition(pos int) string {
	return fmt.Sprintf("%s: %d", MarkerQueueLater, pos)
}

// --- display lines ---

// ServerMessage wraps text in the standard server-notice prefix.
func ServerMessage(text string) string {
	return "[Server Message] " + text
}

// ChatMessage is one broadcast chat line.
func ChatMessage(user, text string) string {
	return "[" + user + "] " + text
}

// WhisperMessage is the line delivered to a whisper target.
func WhisperMessage(from, text string) string {
	return "[" + from + " whispers to you] " + text
}

// WhisperEchoMessage is the line echoed back to the whisperer (and the
// line the server sink logs for the whisper).
func WhisperEchoMessage(from, to, text string) string {
	return "[" + from + " whispers to " + to + "] " + text
}

// JoinedMessage announces an admission or promotion to a channel.
func JoinedMessage(user, channel string) string {
	return ServerMessage(user + " has joined the channel \"" + channel + "\".")
}

// LeftMessage announces a departure from a channel.
func LeftMessage(user string) string {
	return ServerMessage(user + " has left the channel.")
}

// AFKMessage announces an idle eviction to the rest of the channel.
func AFKMessage(user, channel string) string {
	return ServerMessage(user + " went AFK in channel \"" + channel + "\".")
}

// KickedMessage is the sink line for an admin /kick.
func KickedMessage(user string) string {
	return ServerMessage("Kicked " + user + ".")
}

// EmptiedMessage is the sink line for an admin /empty.
func EmptiedMessage(channel string) string {
	return ServerMessage("\"" + channel + "\" has been emptied.")
}

// MutedMessage is the sink line for an admin /mute.
func MutedMessage(user string, seconds int) string {
	return ServerMessage(fmt.Sprintf("Muted %s for %d seconds.", user, seconds))
}

// MuteNotice is delivered to the muted user.
func MuteNotice(seconds int) string {
	return ServerMessage(fmt.Sprintf("You have been muted for %d seconds.", seconds))
}

// MuteBroadcast is delivered to the rest of the muted user's channel.
func MuteBroadcast(user string, seconds int) string {
	return ServerMessage(fmt.Sprintf("%s has been muted for %d seconds.", user, seconds))
}

// MuteRemaining is the reply to a chat attempt while still muted.
func MuteRemaining(seconds int) string {
	return ServerMessage(fmt.Sprintf("You are still in mute for %d seconds.", seconds))
}

// NoSuchChannelMessage rejects a /switch to an unknown channel.
func NoSuchChannelMessage(channel string) string {
	return ServerMessage("Channel \"" + channel + "\" does not exist.")
}

// NotInChannelMessage rejects a /whisper or /send to an absent target.
func NotInChannelMessage(user string) string {
	return ServerMessage(user + " is not in the channel.")
}

// FileOfferMessage is delivered to the target of a /send.
func FileOfferMessage(from, path string) string {
	return ServerMessage(from + " wants to send you the file \"" + path + "\".")
}

// ShutdownMessage is the sink line printed by /shutdown.
func ShutdownMessage() string {
	return ServerMessage("Server shuts down.")
}

// --- client-side renderings ---

// ClientWelcomeLine is printed by the client on its first admission.
func ClientWelcomeLine(user string) string {
	return "Welcome to chatclient, " + user + "."
}

// UserTakenMessage is the client rendering of $UserError and $UserDup.
func UserTakenMessage(channel, user string) string {
	return ServerMessage("Channel \"" + channel + "\" already has user " + user + ".")
}

// JoinedChannelMessage is the client rendering of $02-JoinSuccess.
func JoinedChannelMessage(channel string) string {
	return ServerMessage("You have joined the channel \"" + channel + "\".")
}

// QueueNoticeMessage is the client rendering of both InQueue markers.
// The count is passed through as received.
func QueueNoticeMessage(ahead string) string {
	return ServerMessage("You are in the waiting queue and there are " + ahead + " user(s) ahead of you.")
}

// RemovedKickedMessage is the client rendering of $Kick.
func RemovedKickedMessage() string {
	return ServerMessage("You are removed from the channel.")
}

// RemovedEmptiedMessage is the client rendering of $Empty.
func RemovedEmptiedMessage() string {
	return ServerMessage("The channel has been emptied.")
}

// RemovedAFKMessage is the client rendering of $AFK.
func RemovedAFKMessage() string {
	return ServerMessage("You are removed from the channel for being AFK.")
}

// --- server console lines ---

// ChannelCreatedLine is printed once per channel after every listener is
// bound. It carries no server-message prefix.
func ChannelCreatedLine(name string, port, capacity int) string {
	return fmt.Sprintf("Channel \"%s\" is created on port %d, with a capacity of %d.", name, port, capacity)
}

// WelcomeLine is printed once after the channel-created lines.
func WelcomeLine() string {
	return "Welcome to chatserver."
}

// ChannelStatusLine is one $List response record.
func ChannelStatusLine(name string, port, active, capacity, queued int) string {
	return fmt.Sprintf("[Channel] %s %d Capacity: %d/%d, Queue: %d", name, port, active, capacity, queued)
}
