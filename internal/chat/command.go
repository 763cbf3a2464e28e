package chat

import "strings"

// CommandKind identifies a slash command parsed out of message content.
type CommandKind int

const (
	CmdNick CommandKind = iota
	CmdJoin
	CmdLeave
	CmdChannels
	CmdUsers
	CmdMsg
	CmdUnknown
)

// Command is one parsed slash command. Arg holds the first argument (target
// nickname or channel) and Text the remaining free text, for commands that
// take it.
type Command struct {
	Kind CommandKind
	Name string
	Arg  string
	Text string
}

// ParseCommand recognizes a slash command at the start of message content.
// It returns false when the content is an ordinary chat message.
func ParseCommand(content string) (Command, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}

	fields := strings.Fields(trimmed)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	cmd := Command{Name: name}

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch name {
	case "nick":
		cmd.Kind = CmdNick
		cmd.Arg = arg
	case "join":
		cmd.Kind = CmdJoin
		cmd.Arg = arg
	case "leave", "part":
		cmd.Kind = CmdLeave
		cmd.Arg = arg
	case "channels", "list":
		cmd.Kind = CmdChannels
	case "users", "who":
		cmd.Kind = CmdUsers
		cmd.Arg = arg
	case "msg", "w":
		cmd.Kind = CmdMsg
		cmd.Arg = arg
		if len(fields) > 2 {
			rest := strings.TrimSpace(trimmed[len(fields[0]):])
			rest = strings.TrimSpace(rest[len(arg):])
			cmd.Text = rest
		}
	default:
		cmd.Kind = CmdUnknown
	}

	return cmd, true
}
