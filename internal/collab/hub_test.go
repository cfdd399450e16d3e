package collab

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
	"github.com/pixelveil/pixelveil/backend-go/internal/region"
)

type applied struct {
	sessionID string
	imageID   string
	regions   []region.Region
}

func startHub(t *testing.T) (*httptest.Server, chan applied) {
	t.Helper()
	calls := make(chan applied, 4)
	hub := NewHub(func(_ context.Context, sessionID, imageID string, regions []region.Region) {
		calls <- applied{sessionID, imageID, regions}
	})
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, err := ParseRole(r.URL.Query().Get("role"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hub.Serve(w, r, "sess_test", role, &websocket.AcceptOptions{InsecureSkipVerify: true})
	}))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return srv, calls
}

type conn struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, role Role) *conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?role=" + string(role)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", role, err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	c := &conn{t: t, ws: ws}
	c.expect(TypeWelcome)
	c.expect(TypePeerState)
	return c
}

func (c *conn) send(raw string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect reads until a message of type typ arrives, skipping peer events.
func (c *conn) expect(typ string) Message {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.t.Fatalf("decode %s: %v", data, err)
		}
		if msg.Type == typ {
			return msg
		}
		if msg.Type != TypePeerJoin && msg.Type != TypePeerLeave {
			c.t.Fatalf("got %s while waiting for %s", data, typ)
		}
	}
}

const applyOne = `{"type":"apply-regions","regions":[{"id":"r1","x":10,"y":20,"width":-30,"height":40,"effectKind":"solid","fillColor":"#ff0000"}]}`

func TestHandoffFlow(t *testing.T) {
	srv, calls := startHub(t)
	host := dial(t, srv, RoleHost)
	editor := dial(t, srv, RoleEditor)

	host.send(`{"type":"open-image","imageId":"img_123"}`)
	open := editor.expect(TypeOpenImage)
	if open.ImageID != "img_123" || open.Seq == 0 {
		t.Fatalf("open-image = %+v", open)
	}

	editor.send(applyOne)
	got := host.expect(TypeApplyRegions)
	if got.ImageID != "img_123" || len(got.Regions) != 1 {
		t.Fatalf("apply-regions = %+v", got)
	}
	r := got.Regions[0]
	if r.ID != "r1" || r.Effect != (effect.SolidFill{Color: color.NRGBA{R: 255, A: 255}}) {
		t.Fatalf("region = %+v", r)
	}

	select {
	case call := <-calls:
		if call.sessionID != "sess_test" || call.imageID != "img_123" || len(call.regions) != 1 {
			t.Fatalf("apply hook = %+v", call)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("apply hook not called")
	}

	// A host joining late receives the pending collection.
	late := dial(t, srv, RoleHost)
	if replay := late.expect(TypeApplyRegions); len(replay.Regions) != 1 {
		t.Fatalf("replay = %+v", replay)
	}

	editor.send(`{"type":"cancel"}`)
	host.expect(TypeCancel)
}

func TestHandoffRejections(t *testing.T) {
	srv, _ := startHub(t)
	host := dial(t, srv, RoleHost)
	editor := dial(t, srv, RoleEditor)

	host.send(applyOne)
	if msg := host.expect(TypeError); !strings.Contains(msg.Error, "only editors") {
		t.Fatalf("error = %q", msg.Error)
	}

	editor.send(`{"type":"apply-regions","regions":[{"id":"tiny","x":0,"y":0,"width":1,"height":1,"effectKind":"pixelate"}]}`)
	if msg := editor.expect(TypeError); !strings.Contains(msg.Error, "invalid handoff") {
		t.Fatalf("error = %q", msg.Error)
	}

	editor.send(`{"type":"apply-regions","regions":[{"id":"x","x":0,"y":0,"width":5,"height":5,"effectKind":"blur"}]}`)
	editor.expect(TypeError)

	editor.send(`{"type":"open-image","imageId":"img_1"}`)
	editor.expect(TypeError)
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("host"); err != nil || r.Peer() != RoleEditor {
		t.Fatalf("ParseRole(host) = %v, %v", r, err)
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatal("ParseRole accepted admin")
	}
}

func TestApplyRegionsAlwaysCarriesRegions(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
		omit bool
	}{
		{"empty apply", Message{Type: TypeApplyRegions, SessionID: "s1"}, `"regions":[]`, false},
		{"filled apply", Message{Type: TypeApplyRegions, Regions: []region.Region{{ID: "r1", Width: 4, Height: 4, Effect: effect.Pixelate{BlockSize: 2}}}}, `"regions":[{`, false},
		{"cancel", Message{Type: TypeCancel}, `"regions"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if got := strings.Contains(string(b), tt.want); got == tt.omit {
				t.Fatalf("Marshal = %s, want contains %s = %v", b, tt.want, !tt.omit)
			}
		})
	}
}
