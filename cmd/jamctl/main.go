// Package main provides the control CLI for a running jamd.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/jamtab/internal/api/connect"
	"github.com/osa030/jamtab/internal/app/notification"
	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/tab"
)

var (
	app    = kingpin.New("jamctl", "jamtab control client")
	server = app.Flag("server", "Daemon control address").Default("http://127.0.0.1:7701").String()
	token  = app.Flag("token", "Control token (or set JAM_CONTROL_TOKEN env)").Envar("JAM_CONTROL_TOKEN").String()

	// create command
	createCmd    = app.Command("create", "Create a session and host it")
	createName   = createCmd.Arg("name", "Session name").Required().String()
	createDevice = createCmd.Flag("device", "Device name").Default("jamctl").String()
	createRoom   = createCmd.Flag("room", "Room ID to record the session in").String()

	// join command
	joinCmd    = app.Command("join", "Join a session by code")
	joinCode   = joinCmd.Arg("code", "Join code").Required().String()
	joinDevice = joinCmd.Flag("device", "Device name").Default("jamctl").String()

	// leave command
	leaveCmd       = app.Command("leave", "Leave the current session")
	leaveNoHistory = leaveCmd.Flag("no-history", "Do not save the session to history").Bool()

	// status command
	statusCmd = app.Command("status", "Show the current session")

	// add command
	addCmd    = app.Command("add", "Add a tab to the queue")
	addTitle  = addCmd.Arg("title", "Song title").Required().String()
	addArtist = addCmd.Arg("artist", "Artist").String()
	addID     = addCmd.Flag("id", "Source tab ID").String()
	addURL    = addCmd.Flag("url", "Source URL").String()

	// remove command
	removeCmd   = app.Command("remove", "Remove a queue entry")
	removeEntry = removeCmd.Arg("entry-id", "Queue entry ID").Required().String()

	// play command
	playCmd   = app.Command("play", "Make a queue entry the current tab")
	playEntry = playCmd.Arg("entry-id", "Queue entry ID").Required().String()

	// next command
	nextCmd = app.Command("next", "Advance to the next tab")

	// scroll-sync command
	scrollSyncCmd   = app.Command("scroll-sync", "Turn scroll sync on or off")
	scrollSyncState = scrollSyncCmd.Arg("state", "on or off").Required().Enum("on", "off")

	// history command
	historyCmd    = app.Command("history", "List past sessions")
	historyExport = historyCmd.Flag("export", "Print the export document instead").Bool()

	// rooms commands
	roomsCmd       = app.Command("rooms", "Manage rooms")
	roomsListCmd   = roomsCmd.Command("list", "List rooms").Default()
	roomsCreateCmd = roomsCmd.Command("create", "Create a room")
	roomsName      = roomsCreateCmd.Arg("name", "Room name").Required().String()
	roomsDeleteCmd = roomsCmd.Command("delete", "Delete a room")
	roomsDeleteID  = roomsDeleteCmd.Arg("room-id", "Room ID").Required().String()

	// subscribe command
	subscribeCmd = app.Command("subscribe", "Stream session events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: control token is required (use --token or JAM_CONTROL_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	if command == subscribeCmd.FullCommand() {
		subscribe(client)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch command {
	case createCmd.FullCommand():
		err = create(ctx, client)
	case joinCmd.FullCommand():
		err = join(ctx, client)
	case leaveCmd.FullCommand():
		save := !*leaveNoHistory
		err = client.LeaveSession(ctx, &save)
		if err == nil {
			fmt.Println("Left the session")
		}
	case statusCmd.FullCommand():
		err = status(ctx, client)
	case addCmd.FullCommand():
		err = add(ctx, client)
	case removeCmd.FullCommand():
		err = client.RemoveTab(ctx, *removeEntry)
		if err == nil {
			fmt.Printf("Removed: %s\n", *removeEntry)
		}
	case playCmd.FullCommand():
		err = client.SetCurrentTab(ctx, *playEntry)
		if err == nil {
			fmt.Printf("Now playing: %s\n", *playEntry)
		}
	case nextCmd.FullCommand():
		err = next(ctx, client)
	case scrollSyncCmd.FullCommand():
		err = client.SetScrollSync(ctx, *scrollSyncState == "on")
		if err == nil {
			fmt.Printf("Scroll sync: %s\n", *scrollSyncState)
		}
	case historyCmd.FullCommand():
		err = history(ctx, client)
	case roomsListCmd.FullCommand():
		err = listRooms(ctx, client)
	case roomsCreateCmd.FullCommand():
		var room *jam.Room
		room, err = client.CreateRoom(ctx, *roomsName)
		if err == nil {
			fmt.Printf("Created room %s (%s)\n", room.Name, room.ID)
		}
	case roomsDeleteCmd.FullCommand():
		err = client.DeleteRoom(ctx, *roomsDeleteID)
		if err == nil {
			fmt.Printf("Deleted room %s\n", *roomsDeleteID)
		}
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func create(ctx context.Context, client *apiconnect.Client) error {
	s, err := client.CreateSession(ctx, *createName, *createDevice, *createRoom)
	if err != nil {
		return err
	}
	fmt.Printf("Session created! Join code: %s\n", s.Code)
	return nil
}

func join(ctx context.Context, client *apiconnect.Client) error {
	s, err := client.JoinSession(ctx, *joinCode, *joinDevice)
	if err != nil {
		return err
	}
	fmt.Printf("Joined session %s\n", s.Code)
	return nil
}

func add(ctx context.Context, client *apiconnect.Client) error {
	entry, err := client.AddTab(ctx, tab.Tab{
		ID:     *addID,
		Title:  *addTitle,
		Artist: *addArtist,
		URL:    *addURL,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Queued #%d: %s (%s)\n", entry.Order+1, entry.Tab.DisplayName(), entry.ID)
	return nil
}

func next(ctx context.Context, client *apiconnect.Client) error {
	entry, err := client.PlayNextTab(ctx)
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Println("Queue is empty")
		return nil
	}
	fmt.Printf("Now playing: %s\n", entry.Tab.DisplayName())
	return nil
}

func status(ctx context.Context, client *apiconnect.Client) error {
	st, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Phase: %s\n", st.Phase)
	if st.Session == nil {
		return nil
	}
	printSession(st.Session)
	fmt.Printf("  Local ID: %s\n", st.LocalID)
	fmt.Printf("  Connected peers: %v\n", st.Peers)
	return nil
}

func history(ctx context.Context, client *apiconnect.Client) error {
	if *historyExport {
		doc, err := client.ExportPastSessions(ctx)
		if err != nil {
			return err
		}
		fmt.Println(string(doc))
		return nil
	}

	sessions, err := client.GetPastSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No past sessions")
		return nil
	}
	for _, p := range sessions {
		fmt.Printf("%s  %-20s %s  %d tabs  %d participants\n",
			p.Date.Local().Format("2006-01-02 15:04"), p.Name,
			time.Duration(p.DurationMs)*time.Millisecond, len(p.TabsPlayed), len(p.Participants))
	}
	return nil
}

func listRooms(ctx context.Context, client *apiconnect.Client) error {
	rooms, err := client.GetRooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Println("No rooms")
		return nil
	}
	for _, r := range rooms {
		fmt.Printf("%s  %-20s %d sessions  last used %s\n",
			r.ID, r.Name, len(r.SessionIDs), r.LastUsedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func subscribe(client *apiconnect.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.SubscribeEvents(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	fmt.Println("Subscribed to events. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		cancel()
	}()

	for stream.Receive() {
		printNotification(stream.Msg())
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printNotification(n *notification.Notification) {
	fmt.Printf("\n[Sequence: %d] === %s ===\n", n.SequenceNo, n.Type)

	switch n.Type {
	case notification.TypeInitialState, notification.TypeSession:
		if n.Session != nil {
			printSession(n.Session)
		}
	case notification.TypeQueue:
		printQueue(n.Queue, nil)
	case notification.TypeMembers:
		printMembers(n.Members)
	case notification.TypeError:
		fmt.Printf("  %s\n", n.Error)
	}
}

func printSession(s *jam.Session) {
	fmt.Printf("  Name: %s\n", s.Name)
	fmt.Printf("  Code: %s\n", s.Code)
	fmt.Printf("  Session ID: %s\n", s.ID)
	fmt.Printf("  Scroll sync: %v\n", s.Settings.SyncScrolling)
	printMembers(s.Members)
	printQueue(s.Queue, s.CurrentTabID)
}

func printMembers(members []jam.Member) {
	fmt.Printf("  Members (%d):\n", len(members))
	for _, m := range members {
		state := "online"
		if !m.IsOnline {
			state = "offline"
		}
		line := ""
		if m.ScrollPosition != nil {
			line = fmt.Sprintf(" line %d", *m.ScrollPosition)
		}
		fmt.Printf("    %s  %s (%s)%s\n", m.ID, m.DeviceName, state, line)
	}
}

func printQueue(queue []jam.QueueEntry, current *string) {
	fmt.Printf("  Queue (%d):\n", len(queue))
	for _, e := range queue {
		marker := " "
		if current != nil && *current == e.ID {
			marker = ">"
		}
		fmt.Printf("  %s %d. %s  (%s)\n", marker, e.Order+1, e.Tab.DisplayName(), e.ID)
	}
}
