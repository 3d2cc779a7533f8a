package app

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/petervdpas/nearchat/internal/chat"
	"github.com/petervdpas/nearchat/internal/coordinator"
)

// runREPL reads commands from stdin until EOF or ctx cancellation. Incoming
// events are printed as they arrive.
func runREPL(ctx context.Context, coord *coordinator.Coordinator) error {
	events := coord.Subscribe()
	go printEvents(coord, events)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 64*1024), 64*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, coord, strings.TrimSpace(line)); quit {
				return nil
			}
			fmt.Print("> ")
		}
	}
}

func dispatch(ctx context.Context, coord *coordinator.Coordinator, line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printHelp()

	case "quit", "exit":
		return true

	case "peers":
		cmdPeers(coord)

	case "invite":
		if len(args) != 1 {
			fmt.Println("usage: invite <peer-id>")
			break
		}
		if err := coord.Invite(ctx, args[0]); err != nil {
			fmt.Println("error:", err)
		} else {
			fmt.Println("invitation sent")
		}

	case "invites":
		cmdInvites(coord)

	case "accept", "decline":
		if len(args) != 1 {
			fmt.Printf("usage: %s <invitation-id>\n", cmd)
			break
		}
		var err error
		if cmd == "accept" {
			err = coord.Accept(args[0])
		} else {
			err = coord.Decline(args[0])
		}
		if err != nil {
			fmt.Println("error:", err)
		}

	case "disconnect":
		if len(args) != 1 {
			fmt.Println("usage: disconnect <peer-id>")
			break
		}
		coord.Disconnect(args[0])

	case "msg":
		if len(args) < 2 {
			fmt.Println("usage: msg <peer-id|group-id> <text>")
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, "msg "+args[0]))
		m := chat.NewText(coord.Identity(), text)
		if err := coord.Send(ctx, m, args[0]); err != nil {
			fmt.Println("error:", err)
		}

	case "sendfile":
		if len(args) != 2 {
			fmt.Println("usage: sendfile <peer-id|group-id> <path>")
			break
		}
		cmdSendFile(ctx, coord, args[0], args[1])

	case "group":
		cmdGroup(coord, args)

	case "groups":
		cmdGroups(coord)

	case "read":
		if len(args) != 1 {
			fmt.Println("usage: read <peer-id|group-id>")
			break
		}
		cmdRead(coord, args[0])

	case "unread":
		fmt.Printf("%d unread message(s)\n", coord.TotalUnread())

	case "whoami":
		self := coord.Identity()
		fmt.Printf("%s (%s), session %s\n", self.DisplayName, self.ID, coord.SessionID())

	default:
		fmt.Printf("unknown command '%s' (try 'help')\n", cmd)
	}
	return false
}

func cmdPeers(coord *coordinator.Coordinator) {
	ps := coord.DiscoveredPeers()
	if len(ps) == 0 {
		fmt.Println("no peers discovered")
		return
	}
	for _, p := range ps {
		unread := ""
		if n := coord.Unread(p.Identity.ID); n > 0 {
			unread = fmt.Sprintf("  [%d unread]", n)
		}
		fmt.Printf("  %-30s %-12s %s%s\n", p.Identity.ID, p.State, p.Identity.DisplayName, unread)
	}
}

func cmdInvites(coord *coordinator.Coordinator) {
	invs := coord.PendingInvitations()
	if len(invs) == 0 {
		fmt.Println("no pending invitations")
		return
	}
	for _, inv := range invs {
		fmt.Printf("  %s  from %s (%s), received %s ago\n",
			inv.ID, inv.From.DisplayName, inv.From.ID,
			time.Since(inv.ReceivedAt).Round(time.Second))
	}
}

func cmdSendFile(ctx context.Context, coord *coordinator.Coordinator, key, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	name := filepath.Base(path)
	mt := mime.TypeByExtension(filepath.Ext(name))
	if mt == "" {
		mt = "application/octet-stream"
	}
	m := chat.NewFile(coord.Identity(), name, mt, data)
	if err := coord.Send(ctx, m, key); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("sent %s (%d bytes)\n", name, len(data))
}

func cmdGroup(coord *coordinator.Coordinator, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: group create <name> <peer-id> <peer-id> [...]")
		fmt.Println("       group add <group-id> <peer-id>")
		fmt.Println("       group remove <group-id> <peer-id>")
		fmt.Println("       group delete <group-id>")
		return
	}
	switch args[0] {
	case "create":
		if len(args) < 4 {
			fmt.Println("usage: group create <name> <peer-id> <peer-id> [...]")
			return
		}
		g, err := coord.CreateGroup(args[1], args[2:])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Printf("group %s created: %s\n", g.Name, g.ID)
	case "add":
		if len(args) != 3 {
			fmt.Println("usage: group add <group-id> <peer-id>")
			return
		}
		if err := coord.AddMember(args[1], args[2]); err != nil {
			fmt.Println("error:", err)
		}
	case "remove":
		if len(args) != 3 {
			fmt.Println("usage: group remove <group-id> <peer-id>")
			return
		}
		if err := coord.RemoveMember(args[1], args[2]); err != nil {
			fmt.Println("error:", err)
		}
	case "delete":
		if len(args) != 2 {
			fmt.Println("usage: group delete <group-id>")
			return
		}
		if err := coord.DeleteGroup(args[1]); err != nil {
			fmt.Println("error:", err)
		}
	default:
		fmt.Printf("unknown group subcommand '%s'\n", args[0])
	}
}

func cmdGroups(coord *coordinator.Coordinator) {
	gs := coord.Groups()
	if len(gs) == 0 {
		fmt.Println("no groups")
		return
	}
	for _, g := range gs {
		status := "inactive"
		if g.Active {
			status = "active"
		}
		fmt.Printf("  %s  %-20s %s, %d member(s)\n", g.ID, g.Name, status, len(g.MemberIDs))
	}
}

func cmdRead(coord *coordinator.Coordinator, key string) {
	msgs := coord.Messages(key)
	if len(msgs) == 0 {
		fmt.Println("no messages")
		return
	}
	for _, m := range msgs {
		printMessage(key, m)
	}
	coord.MarkRead(key)
}

func printEvents(coord *coordinator.Coordinator, events <-chan coordinator.Event) {
	for evt := range events {
		switch evt.Type {
		case coordinator.EventMessage:
			if evt.Message != nil && evt.Message.Type != chat.TypeTyping {
				fmt.Println()
				printMessage(evt.Key, *evt.Message)
				fmt.Print("> ")
			}
		case coordinator.EventInvitations:
			if n := len(coord.PendingInvitations()); n > 0 {
				fmt.Printf("\n%d pending invitation(s), type 'invites'\n> ", n)
			}
		}
	}
}

func printMessage(key string, m chat.Message) {
	ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
	switch m.Type {
	case chat.TypeSystem:
		fmt.Printf("[%s] %s * %s\n", ts, key, m.Content)
	case chat.TypeFile:
		size := int64(0)
		if m.File != nil {
			size = m.File.SizeBytes
		}
		fmt.Printf("[%s] %s <%s> sent file %s (%d bytes)\n", ts, key, m.SenderName, m.Content, size)
	default:
		fmt.Printf("[%s] %s <%s> %s\n", ts, key, m.SenderName, m.Content)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  peers                                  list discovered peers")
	fmt.Println("  invite <peer-id>                       ask a peer to connect")
	fmt.Println("  invites                                list pending invitations")
	fmt.Println("  accept <invitation-id>                 accept an invitation")
	fmt.Println("  decline <invitation-id>                decline an invitation")
	fmt.Println("  disconnect <peer-id>                   drop a connected peer locally")
	fmt.Println("  msg <peer-id|group-id> <text>          send a text message")
	fmt.Println("  sendfile <peer-id|group-id> <path>     send a file (max 10 MiB)")
	fmt.Println("  group create <name> <id> <id> [...]    create a group")
	fmt.Println("  group add|remove <group-id> <peer-id>  change membership")
	fmt.Println("  group delete <group-id>                delete a group")
	fmt.Println("  groups                                 list groups")
	fmt.Println("  read <peer-id|group-id>                show a conversation, mark read")
	fmt.Println("  unread                                 total unread count")
	fmt.Println("  whoami                                 show identity and session")
	fmt.Println("  quit                                   exit")
}
