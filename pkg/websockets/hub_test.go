package websockets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chris/invoice-settlement/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_Publish(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	attached := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		attached <- hub.Attach(r.URL.Query().Get("user_id"), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=user-1"
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	var connectionID string
	select {
	case connectionID = <-attached:
	case <-time.After(time.Second):
		t.Fatal("connection was never attached")
	}

	t.Run("Delivers messages to the owner's connection", func(t *testing.T) {
		inv := &models.Invoice{Id: "inv-1", UserId: "user-1", Status: models.InvoiceReserved, Amount: decimal.RequireFromString("5.00")}
		require.NoError(t, hub.Publish(context.Background(), "user-1", NewInvoiceUpdate(inv, nil)))

		_ = clientConn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := clientConn.ReadMessage()
		require.NoError(t, err)

		var got struct {
			Type    MessageType          `json:"type"`
			Payload InvoiceUpdatePayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, MessageTypeInvoiceUpdate, got.Type)
		assert.Equal(t, "inv-1", got.Payload.InvoiceID)
		assert.Equal(t, models.InvoiceReserved, got.Payload.Status)
	})

	t.Run("Ignores users without connections", func(t *testing.T) {
		assert.NoError(t, hub.Publish(context.Background(), "someone-else", Message{Type: MessageTypeInvoiceUpdate}))
	})

	t.Run("Detach forgets the connection", func(t *testing.T) {
		assert.Equal(t, 1, hub.Count("user-1"))
		hub.Detach(connectionID)
		assert.Equal(t, 0, hub.Count("user-1"))
	})
}
