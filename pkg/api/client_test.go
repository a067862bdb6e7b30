package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient("http://localhost:8080"); err != nil {
		t.Errorf("valid URL rejected: %v", err)
	}
	for _, bad := range []string{"", "localhost:8080", "://nope"} {
		if _, err := NewClient(bad); err == nil {
			t.Errorf("URL %q: expected error", bad)
		}
	}
}

func TestListAllUsers_DualShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/all" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		w.Write([]byte(`[{"userId":"u1","userName":"Alice"},{"id":"u2","name":"Bob"}]`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	users, err := c.ListAllUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 || users[0].ID != "u1" || users[1].ID != "u2" || users[1].Name != "Bob" {
		t.Errorf("users: got %+v", users)
	}
}

func TestLogin_PostsUserID(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/login" {
			t.Errorf("request: got %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if err := c.Login(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["userId"] != "u1" {
		t.Errorf("login body: got %v", got)
	}
}

func TestLogin_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if err := c.Login(context.Background(), "u1"); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestBroadcastHistory_ReversedToChronological(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit: got %s", got)
		}
		// Newest first, as the backend serves it.
		w.Write([]byte(`[
			{"senderId":"u1","content":"third","messageType":"TEXT","sentAt":"2025-03-14T09:00:03"},
			{"senderId":"u1","content":"second","messageType":"TEXT","sentAt":"2025-03-14T09:00:02"},
			{"senderId":"u1","content":"first","messageType":"TEXT","sentAt":"2025-03-14T09:00:01"}
		]`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	messages, err := c.BroadcastHistory(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages: got %d", len(messages))
	}
	if messages[0].Content != "first" || messages[2].Content != "third" {
		t.Errorf("order: got [%s %s %s]", messages[0].Content, messages[1].Content, messages[2].Content)
	}
}

func TestDirectHistory_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("user1") != "me" || q.Get("user2") != "u2" || q.Get("limit") != "25" {
			t.Errorf("query: got %v", q)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if _, err := c.DirectHistory(context.Background(), "me", "u2", 25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOnlineUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/online" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		w.Write([]byte(`["u1","u3"]`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	ids, err := c.OnlineUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u3" {
		t.Errorf("ids: got %v", ids)
	}
}

func TestUploadFile_MultipartFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("senderId") != "u1" || r.FormValue("recipientId") != "u2" {
			t.Errorf("fields: senderId=%q recipientId=%q", r.FormValue("senderId"), r.FormValue("recipientId"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "notes.txt" {
			t.Errorf("filename: got %q", header.Filename)
		}
		var buf bytes.Buffer
		buf.ReadFrom(file)
		if buf.String() != "file content" {
			t.Errorf("content: got %q", buf.String())
		}
		w.Write([]byte("file-42\n"))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	id, err := c.UploadFile(context.Background(), "notes.txt", "u1", "u2", strings.NewReader("file content"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "file-42" {
		t.Errorf("file id: got %q, want %q", id, "file-42")
	}
}

func TestUploadFile_OmitsEmptyRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if _, ok := r.MultipartForm.Value["recipientId"]; ok {
			t.Error("broadcast upload must not carry a recipientId field")
		}
		w.Write([]byte("file-1"))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if _, err := c.UploadFile(context.Background(), "a.txt", "u1", "", strings.NewReader("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files/file-42" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		w.Write([]byte("stored bytes"))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	var buf bytes.Buffer
	if err := c.DownloadFile(context.Background(), "file-42", &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "stored bytes" {
		t.Errorf("content: got %q", buf.String())
	}
}
