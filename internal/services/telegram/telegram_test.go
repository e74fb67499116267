package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient("test-token", "12345", 5*time.Second)
	c.baseURL = server.URL
	return c
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	err := c.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "/bottest-token/sendMessage", gotPath)
	require.Equal(t, "12345", gotBody["chat_id"])
	require.Equal(t, "hello", gotBody["text"])
}

func TestSendMessageAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
	})

	err := c.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestSendPhoto(t *testing.T) {
	dir := t.TempDir()
	photoPath := filepath.Join(dir, "detection_20260301_120000_ID1_cam1.jpg")
	require.NoError(t, os.WriteFile(photoPath, []byte("jpeg-bytes"), 0o644))

	var gotPath, gotChatID, gotCaption, gotFilename string
	var gotPhoto []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotChatID = r.FormValue("chat_id")
		gotCaption = r.FormValue("caption")

		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		gotPhoto, err = io.ReadAll(file)
		require.NoError(t, err)

		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	err := c.SendPhoto(context.Background(), photoPath, "Person ID: 1")
	require.NoError(t, err)
	require.Equal(t, "/bottest-token/sendPhoto", gotPath)
	require.Equal(t, "12345", gotChatID)
	require.Equal(t, "Person ID: 1", gotCaption)
	require.Equal(t, "detection_20260301_120000_ID1_cam1.jpg", gotFilename)
	require.Equal(t, []byte("jpeg-bytes"), gotPhoto)
}

func TestSendPhotoMissingFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for a missing photo")
	})

	err := c.SendPhoto(context.Background(), "/nonexistent/photo.jpg", "caption")
	require.Error(t, err)
}
