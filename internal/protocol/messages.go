// Package protocol holds the texts the server writes to clients and the
// newline framing applied to what they send.
package protocol

import (
	"strings"
	"unicode/utf8"
)

const (
	LoginPrompt      = "Please enter your login: "
	TargetPrompt     = "Please enter name of user that you want to talk with: "
	PeerDisconnected = "User you were talking to, disconnected from the server"
	ServerFull       = "Server is full, please try again later\n"
	EmptyLogin       = "Login cannot be empty\n"
	SelfTarget       = "You cannot talk to yourself\n"

	listHeader = "\nList:\tUSERNAME\n"
)

func Connected(user string) string {
	return "+ " + user + " has connected\n"
}

func Disconnected(user string) string {
	return "- " + user + " has disconnected\n"
}

func NameTaken(user string) string {
	return "Login " + user + " is already taken\n"
}

func UnknownUser(user string) string {
	return "User " + user + " is not connected\n"
}

func TalkingTo(user string) string {
	return "You are now talking to " + user + "\n"
}

// Chat tags a relayed line with its sender.
func Chat(sender, line string) string {
	var b strings.Builder
	b.Grow(len(sender) + len(line) + 4)
	b.WriteByte('[')
	b.WriteString(sender)
	b.WriteString("] ")
	b.WriteString(line)
	b.WriteByte('\n')
	return b.String()
}

func UserList(names []string) string {
	var b strings.Builder
	b.WriteString(listHeader)
	for _, n := range names {
		b.WriteByte('\t')
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return b.String()
}

// SanitizeUsername cuts line at the first CR or LF, trims surrounding
// whitespace and truncates to max bytes without splitting a rune.
func SanitizeUsername(line string, max int) string {
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if max <= 0 || len(line) <= max {
		return line
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut]
}
