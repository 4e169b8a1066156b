// Package bot is the chat front-end: command parsing, replies and the
// inline keyboard of the chat download wizard.
package bot

import (
	"strings"
)

// Command is a parsed bot command.
type Command struct {
	Name string   // without the slash and @botname
	Args []string // whitespace separated arguments
	Rest string   // text after the command name, trimmed
}

// ParseCommand splits "/name@bot a b" into its parts. Text that does not start
// with a slash is not a command.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i+1:] + " " + rest
		head = head[:i]
	}
	name, _, _ := strings.Cut(head, "@")
	if name == "" {
		return Command{}, false
	}
	cmd := Command{Name: strings.ToLower(name), Rest: strings.TrimSpace(rest)}
	if cmd.Rest != "" {
		cmd.Args = strings.Fields(cmd.Rest)
	}
	return cmd, true
}

// isLinkText reports whether plain text looks like message links.
func isLinkText(text string) bool {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "https://telegram.me/"} {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// splitUpload separates "/upload <path> <target>" where the path may contain spaces.
func splitUpload(rest string) (path, target string, ok bool) {
	i := strings.LastIndexAny(rest, " \t\n")
	if i < 0 {
		return "", "", false
	}
	path = strings.TrimSpace(rest[:i])
	target = strings.TrimSpace(rest[i+1:])
	return path, target, path != "" && target != ""
}
