package display

import (
	"context"
	"fmt"
	"html/template"
	"image"
	"image/png"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Web serves the current frame over HTTP. Browsers are told about new
// frames over a websocket and acknowledge them with POST /next.
type Web struct {
	mu      sync.Mutex
	window  string
	frame   image.Image
	seq     int
	ack     chan struct{} // non-nil while a Show call waits
	conns   []*websocket.Conn
	done    chan struct{}
	closed  bool
	server  *http.Server
	addr    string
	handler http.Handler
	logger  logging.Logger
}

func newWeb() *Web {
	w := &Web{
		done:   make(chan struct{}),
		logger: logging.New("display"),
	}
	r := mux.NewRouter()
	r.HandleFunc("/", w.pageHandler()).Methods("GET")
	r.HandleFunc("/frame", w.frameHandler()).Methods("GET")
	r.HandleFunc("/ws", w.socketHandler())
	r.HandleFunc("/next", w.nextHandler()).Methods("POST")
	w.handler = r
	return w
}

// NewWeb starts a viewer listening on addr.
func NewWeb(addr string) (*Web, error) {
	w := newWeb()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "viewer listen on %s", addr)
	}
	w.addr = ln.Addr().String()
	w.server = &http.Server{Handler: w.handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.logger.Error("viewer stopped", "error", err)
		}
	}()
	w.logger.Info(fmt.Sprintf("serving viewer at http://%s", w.addr))
	return w, nil
}

// Addr returns the address the viewer listens on.
func (w *Web) Addr() string { return w.addr }

// Handler returns the viewer routes.
func (w *Web) Handler() http.Handler { return w.handler }

// Show publishes img and waits for POST /next.
func (w *Web) Show(ctx context.Context, window string, img image.Image) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.window, w.frame = window, img
	w.seq++
	ack := make(chan struct{})
	w.ack = ack
	seq := w.seq
	w.broadcast()
	w.mu.Unlock()

	w.logger.Debug("waiting for next", "window", window, "seq", seq)
	select {
	case <-ack:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		w.mu.Lock()
		if w.ack == ack {
			w.ack = nil
		}
		w.mu.Unlock()
		return ctx.Err()
	}
}

// Close stops the server and releases any waiting Show.
func (w *Web) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	for _, c := range w.conns {
		c.Close()
	}
	w.conns = nil
	w.mu.Unlock()

	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(w.server.Shutdown(ctx), "viewer shutdown")
}

func (w *Web) message() []byte {
	return []byte(fmt.Sprintf("%s:%d", w.window, w.seq))
}

// broadcast tells every client about the current frame. w.mu must be held.
func (w *Web) broadcast() {
	kept := w.conns[:0]
	msg := w.message()
	for _, c := range w.conns {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			w.logger.Debug("dropping websocket client", "error", err)
			c.Close()
			continue
		}
		kept = append(kept, c)
	}
	w.conns = kept
}

func (w *Web) pageHandler() func(http.ResponseWriter, *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		data := struct {
			Window string
			Seq    int
		}{w.window, w.seq}
		w.mu.Unlock()
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(rw, data); err != nil {
			w.logger.Error("render page", "error", err)
		}
	}
}

func (w *Web) frameHandler() func(http.ResponseWriter, *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		frame := w.frame
		w.mu.Unlock()
		if frame == nil {
			http.NotFound(rw, r)
			return
		}
		rw.Header().Set("Content-Type", "image/png")
		rw.Header().Set("Cache-Control", "no-store")
		if err := png.Encode(rw, frame); err != nil {
			w.logger.Error("encode frame", "error", err)
		}
	}
}

func (w *Web) socketHandler() func(http.ResponseWriter, *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			w.logger.Warn("websocket upgrade", "error", err)
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			conn.Close()
			return
		}
		if w.ack != nil {
			if err := conn.WriteMessage(websocket.TextMessage, w.message()); err != nil {
				conn.Close()
				return
			}
		}
		w.conns = append(w.conns, conn)
	}
}

func (w *Web) nextHandler() func(http.ResponseWriter, *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		if w.ack != nil {
			close(w.ack)
			w.ack = nil
		}
		w.mu.Unlock()
		rw.WriteHeader(http.StatusNoContent)
	}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>{{if .Window}}{{.Window}}{{else}}viewer{{end}}</title></head>
<body>
<h3 id="window">{{.Window}}</h3>
<img id="frame" src="/frame?seq={{.Seq}}" alt="waiting for a frame">
<p><button id="next">next</button></p>
<script>
const img = document.getElementById("frame");
const title = document.getElementById("window");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
	const [name, seq] = ev.data.split(":");
	title.textContent = name;
	document.title = name;
	img.src = "/frame?seq=" + seq;
};
const next = () => fetch("/next", {method: "POST"});
document.getElementById("next").onclick = next;
document.onkeydown = next;
</script>
</body>
</html>
`))
