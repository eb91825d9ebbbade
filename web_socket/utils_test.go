package web_socket_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	ws "github.com/fr0ster/turbo-speech/web_socket"
)

const timeOut = 2 * time.Second

// jsonHandler is a small protocol used only by these tests: "id" marks a
// correlated response, "topic" a topic event, {"type":"ping"} a heartbeat.
type jsonHandler struct {
	policy ws.HeartbeatPolicy
}

func (jsonHandler) Name() string { return "test-json" }

func (h jsonHandler) Classify(msg ws.WireMessage) (ws.MessageKind, error) {
	if msg.Type == ws.WireControl {
		return ws.MessageKind{Class: ws.KindControl}, nil
	}
	js, err := simplejson.NewJson(msg.Payload)
	if err != nil {
		return ws.MessageKind{}, err
	}
	if _, err := js.Map(); err != nil {
		return ws.MessageKind{}, errors.New("not an object")
	}
	if id, ok := h.CorrelationID(msg); ok {
		return ws.MessageKind{Class: ws.KindCorrelatedResponse, ID: id}, nil
	}
	if topic, ok := h.Topic(msg); ok {
		return ws.MessageKind{Class: ws.KindTopicEvent, Topic: topic}, nil
	}
	if js.Get("type").MustString() == "ping" {
		return ws.MessageKind{Class: ws.KindControl}, nil
	}
	return ws.MessageKind{Class: ws.KindUnsolicited}, nil
}

func field(msg ws.WireMessage, name string) (string, bool) {
	js, err := simplejson.NewJson(msg.Payload)
	if err != nil {
		return "", false
	}
	v, err := js.Get(name).String()
	return v, err == nil && v != ""
}

func (jsonHandler) CorrelationID(msg ws.WireMessage) (string, bool) { return field(msg, "id") }

func (jsonHandler) Topic(msg ws.WireMessage) (string, bool) { return field(msg, "topic") }

func (jsonHandler) BuildSubscribe(topic string) ws.WireMessage {
	return ws.TextMessage(`{"op":"subscribe","topic":"` + topic + `"}`)
}

func (jsonHandler) BuildUnsubscribe(topic string) ws.WireMessage {
	return ws.TextMessage(`{"op":"unsubscribe","topic":"` + topic + `"}`)
}

func (jsonHandler) IsHeartbeatProbe(msg ws.WireMessage) bool {
	typ, ok := field(msg, "type")
	return ok && typ == "ping"
}

func (jsonHandler) BuildHeartbeatReply(ws.WireMessage) (ws.WireMessage, bool) {
	return ws.TextMessage(`{"type":"pong"}`), true
}

func (h jsonHandler) HeartbeatPolicy() ws.HeartbeatPolicy { return h.policy }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// StartWebSocketTestServer upgrades every request and hands the connection to handler.
func StartWebSocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) (url string, cleanup func()) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	return "ws" + srv.URL[4:], srv.Close
}

// EchoHandler echoes data frames until the client goes away.
func EchoHandler(conn *websocket.Conn) {
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(typ, msg); err != nil {
			return
		}
	}
}

func next(t *testing.T, s *ws.ConnectionStream) ws.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeOut)
	defer cancel()
	ev, ok := s.Next(ctx)
	if !ok {
		t.Fatal("stream exhausted")
	}
	if ev.Type == ws.EventError {
		t.Fatalf("timed out waiting for event: %v", ev.Err)
	}
	return ev
}
