package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/vinchx/chitchat/pkg/api"
)

var apiAddr = flag.String("api", "http://localhost:8081", "api service address")

func call(method, path, token string, in, out any) {
	var body io.Reader
	if in != nil {
		raw, _ := json.Marshal(in)
		body = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, *apiAddr+path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Add("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: %d %s", method, path, resp.StatusCode, raw)
	}
	log.Printf("%s %s: %d", method, path, resp.StatusCode)
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatal(err)
		}
	}
}

func login(userID string) string {
	var resp api.LoginResponse
	call(http.MethodPost, "/login", "", api.LoginRequest{UserID: userID}, &resp)
	return resp.Token
}

// Expects a room that both users belong to, e.g. seeded with
// scripts/create_schema -rooms.
func main() {
	room := flag.String("room", "general", "room shared by both users")
	userA := flag.String("a", "alice", "sender")
	userB := flag.String("b", "bob", "reader")
	flag.Parse()

	tokenA, tokenB := login(*userA), login(*userB)
	fmt.Printf("Token: %s...\n", tokenA[:10])

	var created api.CreateMessageResponse
	call(http.MethodPost, "/rooms/"+*room+"/messages", tokenA,
		api.CreateMessageRequest{Body: "hello from verify_api", ClientToken: uuid.NewString()}, &created)
	log.Printf("Created %s at %s", created.MessageID, created.CreatedAt)

	var page api.ListMessagesResponse
	call(http.MethodGet, "/rooms/"+*room+"/messages?limit=10", tokenB, nil, &page)
	log.Printf("History: %d messages, hasMore=%v", len(page.Messages), page.HasMore)

	var marked api.MarkReadResponse
	call(http.MethodPost, "/rooms/"+*room+"/read", tokenB, api.MarkReadRequest{MarkAllAsRead: true}, &marked)
	log.Printf("Marked %d as read", marked.MarkedCount)

	var receipts api.ReceiptsResponse
	call(http.MethodGet, "/rooms/"+*room+"/receipts?messageIds="+created.MessageID, tokenA, nil, &receipts)
	r := receipts.Receipts[created.MessageID]
	log.Printf("Receipts: read by %d of %d", r.ReadCount, r.TotalMembers)

	var edited api.EditMessageResponse
	call(http.MethodPatch, "/messages/"+created.MessageID, tokenA, api.EditMessageRequest{Body: "edited by verify_api"}, &edited)

	var deleted api.DeleteMessageResponse
	call(http.MethodDelete, "/messages/"+created.MessageID, tokenA, nil, &deleted)
	log.Printf("Edited=%v Deleted=%v", edited.IsEdited, deleted.IsDeleted)
}
