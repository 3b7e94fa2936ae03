package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/NicolasHaas/parley/pkg/client"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/protocol/pb"
	"github.com/NicolasHaas/parley/pkg/version"
)

const usage = `commands:
  msg <to> <text>                  send to a user or group
  creategroup <group> [members...] create a group with you in it
  addtogroup <group> <member>      add someone to a group you are in
  leavegroup <group>               leave a group
  poll <group> <question>          start a yes/no poll
  poll <group> yes|no              vote in the running poll
  listmembers <group>              list a group's members
  mygroups                         list your groups
  disconnect                       leave the chat`

func main() {
	defaults := client.DefaultSettings()
	settingsPath := flag.String("settings", client.SettingsPath(), "Settings file")
	addr := flag.String("server", defaults.Server, "Server address (host:port), or a ws:// URL for the /ws endpoint")
	name := flag.String("name", "", "Name to connect as")
	useTLS := flag.Bool("tls", defaults.TLS, "Use TLS for the stream connection")
	save := flag.Bool("save", false, "Save -server, -name and -tls as defaults")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Flags given on the command line win over saved settings.
	settings := client.LoadSettings(*settingsPath)
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["server"] {
		*addr = settings.Server
	}
	if !set["name"] {
		*name = settings.Name
	}
	if !set["tls"] {
		*useTLS = settings.TLS
	}

	if *showVersion {
		fmt.Println("parley-client", version.Full())
		return
	}
	if err := logging.Setup(logging.Options{Level: *logLevel, Format: *logFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	if *save {
		s := &client.Settings{Server: *addr, Name: *name, TLS: *useTLS}
		if err := s.Save(*settingsPath); err != nil {
			slog.Error("save settings", "err", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := dial(ctx, *addr, *useTLS)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	c.StartReceiving(printFrame)

	in := bufio.NewScanner(os.Stdin)
	if *name == "" {
		fmt.Print("name: ")
		if !in.Scan() {
			return
		}
		*name = strings.TrimSpace(in.Text())
	}
	if err := c.Connect(*name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-c.Done():
			fmt.Println("disconnected")
			return
		case line, ok := <-lines:
			if !ok {
				_ = c.Disconnect()
				<-c.Done()
				return
			}
			if err := run(c, line); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

func dial(ctx context.Context, addr string, useTLS bool) (*client.Client, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return client.DialWebSocket(ctx, addr)
	}
	return client.Dial(ctx, addr, useTLS)
}

func printFrame(f *pb.Frame) {
	if f.Tag != pb.TagMessage {
		return
	}
	m := f.Message.ToModel()
	fmt.Printf("%s: %s\n", m.Sender, m.Content)
}

// run executes one input line.
func run(c *client.Client, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "":
		return nil
	case "msg":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return fmt.Errorf("usage: msg <to> <text>")
		}
		return c.Send(to, strings.TrimSpace(text))
	case "creategroup":
		if len(args) < 1 {
			return fmt.Errorf("usage: creategroup <group> [members...]")
		}
		return c.CreateGroup(args[0], args[1:]...)
	case "addtogroup":
		if len(args) != 2 {
			return fmt.Errorf("usage: addtogroup <group> <member>")
		}
		return c.AddToGroup(args[0], args[1])
	case "leavegroup":
		if len(args) != 1 {
			return fmt.Errorf("usage: leavegroup <group>")
		}
		return c.LeaveGroup(args[0])
	case "poll":
		group, question, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(question) == "" {
			return fmt.Errorf("usage: poll <group> <question>|yes|no")
		}
		return c.Poll(group, strings.TrimSpace(question))
	case "listmembers":
		if len(args) != 1 {
			return fmt.Errorf("usage: listmembers <group>")
		}
		return c.ListMembers(args[0])
	case "mygroups":
		return c.MyGroups()
	case "disconnect":
		return c.Disconnect()
	case "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}
