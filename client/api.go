package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vinchx/chitchat/pkg/api"
	"github.com/vinchx/chitchat/pkg/model"
)

// apiClient talks to the HTTP message API on behalf of one user.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) login(userID string) error {
	var resp api.LoginResponse
	if err := c.do(http.MethodPost, "/login", api.LoginRequest{UserID: userID}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

func (c *apiClient) send(roomID string, req api.CreateMessageRequest) (model.Message, error) {
	var resp api.CreateMessageResponse
	err := c.do(http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/messages", req, &resp)
	return resp.Message, err
}

func (c *apiClient) history(roomID, cursor string, limit int) (api.ListMessagesResponse, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp api.ListMessagesResponse
	err := c.do(http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/messages?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *apiClient) edit(messageID, body string) error {
	return c.do(http.MethodPatch, "/messages/"+url.PathEscape(messageID), api.EditMessageRequest{Body: body}, nil)
}

func (c *apiClient) remove(messageID string) error {
	return c.do(http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *apiClient) markAllRead(roomID string) (int, error) {
	var resp api.MarkReadResponse
	err := c.do(http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/read", api.MarkReadRequest{MarkAllAsRead: true}, &resp)
	return resp.MarkedCount, err
}

func (c *apiClient) receipts(roomID string) (map[string]model.ReceiptSummary, error) {
	var resp api.ReceiptsResponse
	err := c.do(http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/receipts", nil, &resp)
	return resp.Receipts, err
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
