package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vinchx/chitchat/pkg/api"
	"github.com/vinchx/chitchat/pkg/attachments"
	"github.com/vinchx/chitchat/pkg/gateway"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/reconcile"
)

const helpText = `commands:
  /more                 load older messages
  /show                 redraw the room
  /edit <id> <text>     edit one of your messages
  /delete <id>          delete one of your messages
  /reply <id> <text>    reply to a message
  /attach <path> <url>  send a file already uploaded at url
  /read                 mark the room as read
  /receipts             show read receipts
  /typing               tell the room you are typing
  /quit`

type session struct {
	api     *apiClient
	conn    *websocket.Conn
	writeMu sync.Mutex // one writer per websocket
	view    *reconcile.View
	cache   reconcile.Cache
	room    string
	user    string
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	roomID := flag.String("room", "general", "room id")
	dmUser := flag.String("dm", "", "user id to dm (overrides -room)")
	cacheDir := flag.String("cache", "", "local cache directory (default ~/.chitchat/<user>)")
	flag.Parse()

	finalRoomID := *roomID
	if *dmUser != "" {
		// Sort user IDs to ensure consistent room ID
		u1, u2 := *userID, *dmUser
		if u1 > u2 {
			u1, u2 = u2, u1
		}
		finalRoomID = fmt.Sprintf("dm-%s-%s", u1, u2)
	}

	dir := *cacheDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal(err)
		}
		dir = filepath.Join(home, ".chitchat", *userID)
	}
	cache, err := reconcile.OpenBadgerCache(dir, reconcile.DefaultCacheLimit)
	if err != nil {
		log.Fatal("open cache:", err)
	}
	defer cache.Close()

	s := &session{
		api:   newAPIClient(*apiAddr),
		view:  reconcile.NewView(finalRoomID, *userID),
		cache: cache,
		room:  finalRoomID,
		user:  *userID,
	}

	// Redraw from the cache while the network catches up.
	if cached, err := cache.Load(finalRoomID); err != nil {
		log.Println("cache:", err)
	} else if s.view.Seed(cached) > 0 {
		s.render()
	}

	log.Printf("Logging in as %s...", *userID)
	if err := s.api.login(*userID); err != nil {
		log.Fatal("Login failed:", err)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	q := u.Query()
	q.Set("room", finalRoomID)
	u.RawQuery = q.Encode()
	header := http.Header{}
	header.Add("Authorization", "Bearer "+s.api.token)

	log.Printf("connecting to %s", u.String())
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer conn.Close()
	s.conn = conn

	// Subscribe before fetching history so nothing falls in between.
	if err := s.loadLatest(); err != nil {
		log.Println("history:", err)
	}
	s.render()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readLoop()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	quit := make(chan struct{})
	go func() {
		s.inputLoop()
		close(quit)
	}()

	select {
	case <-done:
	case <-quit:
	case <-interrupt:
		log.Println("interrupt")
	}

	if err := s.cache.Save(finalRoomID, s.view.Messages()); err != nil {
		log.Println("save cache:", err)
	}

	s.writeMu.Lock()
	err = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	if err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func (s *session) loadLatest() error {
	page, err := s.api.history(s.room, "", 0)
	if err != nil {
		return err
	}
	s.view.Latest(page.Messages)
	s.markSeen(page.Messages)
	return nil
}

func (s *session) loadOlder() error {
	cursor := s.view.Oldest()
	if cursor == "" {
		return s.loadLatest()
	}
	page, err := s.api.history(s.room, cursor, 0)
	if err != nil {
		return err
	}
	if len(page.Messages) == 0 {
		fmt.Println("-- no older messages --")
		return nil
	}
	s.view.Prepend(page.Messages)
	s.render()
	if !page.HasMore {
		fmt.Println("-- start of history --")
	}
	return nil
}

func (s *session) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}
		ev, err := model.UnmarshalEvent(raw)
		if err != nil {
			log.Printf("Received raw: %s", raw)
			continue
		}
		s.handle(ev)
	}
}

func (s *session) handle(ev model.Event) {
	switch ev.Type {
	case model.EventTypingStarted:
		if ev.UserID != s.user {
			fmt.Printf("\r%s is typing...      \n> ", ev.UserID)
		}
	case model.EventTypingStopped:
	case model.EventPresence:
		fmt.Printf("\r[online: %s]\n> ", strings.Join(ev.Online, ", "))
	case model.EventReceiptUpdated:
		for id, r := range ev.Receipts {
			if r.IsReadByAll {
				fmt.Printf("\r[%s read by everyone]\n> ", id)
			}
		}
	case model.EventRoomMarkedRead:
	default:
		if !s.view.Apply(ev) || ev.Message == nil {
			return
		}
		m := ev.Message.Redacted()
		fmt.Printf("\r%s\n> ", line(m, ""))
		if ev.Type == model.EventMessageCreated {
			s.markSeen([]model.Message{m})
		}
	}
}

// markSeen reports messages from other users as read over the socket.
func (s *session) markSeen(msgs []model.Message) {
	var ids []string
	for _, m := range msgs {
		if m.SenderID != s.user && !m.IsDeleted {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := s.write(gateway.Frame{Type: gateway.FrameRead, MessageIDs: ids}); err != nil {
		log.Println("write:", err)
	}
}

func (s *session) write(f gateway.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *session) inputLoop() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "/quit" {
			return
		}
		if err := s.command(text); err != nil {
			fmt.Println("error:", err)
		}
		fmt.Print("> ")
	}
}

func (s *session) command(text string) error {
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "/") || strings.HasPrefix(strings.ToLower(text), "/ai ") {
		return s.send(api.CreateMessageRequest{Body: text}, nil, nil)
	}

	cmd, rest, _ := strings.Cut(text, " ")
	switch cmd {
	case "/help":
		fmt.Println(helpText)
	case "/show":
		s.render()
	case "/more":
		return s.loadOlder()
	case "/typing":
		return s.write(gateway.Frame{Type: string(model.EventTypingStarted)})
	case "/read":
		n, err := s.api.markAllRead(s.room)
		if err != nil {
			return err
		}
		fmt.Printf("marked %d messages as read\n", n)
	case "/receipts":
		receipts, err := s.api.receipts(s.room)
		if err != nil {
			return err
		}
		for _, m := range s.view.Messages() {
			if r, ok := receipts[m.ID]; ok && m.SenderID == s.user {
				fmt.Printf("%s  read %d/%d\n", m.ID, r.ReadCount, r.TotalMembers-1)
			}
		}
	case "/edit":
		id, body, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /edit <id> <text>")
		}
		return s.api.edit(id, body)
	case "/delete":
		if rest == "" {
			return fmt.Errorf("usage: /delete <id>")
		}
		return s.api.remove(rest)
	case "/reply":
		id, body, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /reply <id> <text>")
		}
		return s.send(api.CreateMessageRequest{Body: body, ReplyTo: id}, nil, s.replySnapshot(id))
	case "/attach":
		path, rawURL, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /attach <path> <url>")
		}
		a, err := attachments.FromFile(path, rawURL)
		if err != nil {
			return err
		}
		req := api.CreateMessageRequest{Attachment: &api.AttachmentRequest{
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
			MimeType: a.MimeType,
		}}
		return s.send(req, &a, nil)
	default:
		fmt.Println(helpText)
	}
	return nil
}

// send shows the message at once and reconciles it with the server's copy.
func (s *session) send(req api.CreateMessageRequest, a *model.Attachment, reply *model.ReplySnapshot) error {
	p := s.view.Submit(req.Body, a, reply)
	req.ClientToken = p.Token
	fmt.Printf("%s\n", line(p.Message, "sending"))

	m, err := s.api.send(s.room, req)
	if err != nil {
		s.view.Fail(p.Token, err)
		return err
	}
	s.view.Confirm(p.Token, m)
	return nil
}

func (s *session) replySnapshot(id string) *model.ReplySnapshot {
	for _, m := range s.view.Messages() {
		if m.ID == id {
			return m.Redacted().Snapshot()
		}
	}
	return nil
}

func (s *session) render() {
	fmt.Printf("\n=== %s ===\n", s.room)
	for _, e := range s.view.Snapshot() {
		status := ""
		switch e.Status {
		case reconcile.StatusPending:
			status = "sending"
		case reconcile.StatusFailed:
			status = "failed: " + e.Err
		case reconcile.StatusCached:
			status = "cached"
		}
		fmt.Println(line(e.Message, status))
	}
}

func line(m model.Message, status string) string {
	var b strings.Builder
	if m.ID != "" {
		fmt.Fprintf(&b, "[%s] ", m.ID)
	}
	fmt.Fprintf(&b, "%s %s: ", m.CreatedAt.Local().Format("15:04"), m.SenderID)
	switch {
	case m.IsDeleted:
		b.WriteString("(message deleted)")
	case m.Attachment != nil:
		fmt.Fprintf(&b, "[%s %s] %s", m.Kind, m.Attachment.Filename, m.Body)
	default:
		b.WriteString(m.Body)
	}
	if m.ReplyTo != nil {
		fmt.Fprintf(&b, "  (reply to %s: %q)", m.ReplyTo.Sender, m.ReplyTo.Text)
	}
	if m.IsEdited && !m.IsDeleted {
		b.WriteString(" (edited)")
	}
	if status != "" {
		fmt.Fprintf(&b, " [%s]", status)
	}
	return b.String()
}
