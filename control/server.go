// Copyright 2026 The Taskvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"

	"github.com/taskvisor/taskvisor"
	"github.com/taskvisor/taskvisor/rpc"
)

// Caller is the worker's end of the control channel.
type Caller interface {
	Call(*rpc.Request) (*rpc.Response, error)
	Notify(*rpc.Request) error
}

// Options configure a Handler.
type Options struct {
	// User and PasswordHash enable HTTP Basic authentication.  The
	// hash is a bcrypt hash.  An empty User disables authentication.
	User         string
	PasswordHash string

	// Actions are the actions that will be forwarded.  Anything else
	// is refused here, before it can reach the supervisor.  Nil means
	// taskvisor.KnownActions().
	Actions []string

	Logger zerolog.Logger
}

// Handler serves the control plane over HTTP.
type Handler struct {
	c      Caller
	r      *mux.Router
	known  map[string]bool
	names  []string
	user   string
	hash   []byte
	up     websocket.Upgrader
	logger zerolog.Logger
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJsonCode(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	h.writeJsonCode(w, http.StatusOK, v)
}

func (h *Handler) writeRaw(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", mimeJson)
	io.WriteString(w, doc)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	h.writeJsonCode(w, e.Code, e)
}

func (h *Handler) request(action string, args []interface{}) *rpc.Request {
	return &rpc.Request{ID: uuid.NewString(), Action: action, Args: args}
}

func (h *Handler) call(action string, args []interface{}) (*Result, *Error) {
	if !h.known[action] {
		return nil, &Error{http.StatusNotFound, "Unknown action"}
	}
	rsp, e := h.c.Call(h.request(action, args))
	if e != nil {
		h.logger.Error().Err(e).Str("action", action).Msg("Control channel failed")
		return nil, &Error{http.StatusBadGateway, e.Error()}
	}
	return &Result{Success: rsp.Success, Payload: rsp.Payload}, nil
}

// restart asks for a restart.  The supervisor stops us before it
// replaces itself, so there will be no answer.
func (h *Handler) restart(args []interface{}) {
	h.logger.Info().Msg("Restart requested")
	if e := h.c.Notify(h.request(taskvisor.ActionRestart, args)); e != nil {
		h.logger.Error().Err(e).Msg("Cannot request restart")
	}
}

func readArgs(r *http.Request) ([]interface{}, error) {
	b, e := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if e != nil {
		return nil, e
	}
	if len(b) == 0 {
		return nil, nil
	}
	var args []interface{}
	if e := decodeJson(bytes.NewReader(b), &args); e != nil {
		return nil, errors.New("Arguments must be a JSON array")
	}
	return args, nil
}

// decodeJson keeps numbers as json.Number, so that integers survive
// the trip to the supervisor unrounded.
func decodeJson(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

func readWs(ws *websocket.Conn, req *WsRequest) error {
	_, r, e := ws.NextReader()
	if e != nil {
		return e
	}
	return decodeJson(r, req)
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, h.names)
}

func (h *Handler) doAction(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["action"]
	args, e := readArgs(r)
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
		return
	}
	if !h.known[name] {
		h.writeError(w, &Error{http.StatusNotFound, "Unknown action"})
		return
	}
	if name == taskvisor.ActionRestart {
		h.writeJsonCode(w, http.StatusAccepted, &Result{Success: true, Payload: "Restarting"})
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		go h.restart(args)
		return
	}
	res, err := h.call(name, args)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJson(w, res)
}

// passThrough runs an action whose payload is itself a JSON document
// and returns that document as the body.
func (h *Handler) passThrough(w http.ResponseWriter, action string, args []interface{}) {
	res, err := h.call(action, args)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !res.Success {
		h.writeError(w, &Error{http.StatusInternalServerError, res.Payload})
		return
	}
	h.writeRaw(w, res.Payload)
}

func (h *Handler) getWorkers(w http.ResponseWriter, r *http.Request) {
	h.passThrough(w, taskvisor.ActionStatus, nil)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	var args []interface{}
	if last := r.URL.Query().Get("last"); last != "" {
		args = append(args, last)
	}
	h.passThrough(w, taskvisor.ActionLog, args)
}

func (h *Handler) serveWs(w http.ResponseWriter, r *http.Request) {
	ws, e := h.up.Upgrade(w, r, nil)
	if e != nil {
		// Upgrade has already replied.
		return
	}
	defer ws.Close()

	for {
		req := &WsRequest{}
		if e := readWs(ws, req); e != nil {
			if !websocket.IsCloseError(e, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(e).Msg("WebSocket closed")
			}
			return
		}
		rep := &WsReply{ID: req.ID}
		switch {
		case !h.known[req.Action]:
			rep.Error = "Unknown action"
		case req.Action == taskvisor.ActionRestart:
			rep.Success = true
			rep.Payload = "Restarting"
			if e := ws.WriteJSON(rep); e != nil {
				return
			}
			h.restart(req.Args)
			continue
		default:
			if res, err := h.call(req.Action, req.Args); err != nil {
				rep.Error = err.Message
			} else {
				rep.Success = res.Success
				rep.Payload = res.Payload
			}
		}
		if e := ws.WriteJSON(rep); e != nil {
			return
		}
	}
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.user != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != h.user ||
				bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="taskvisor"`)
				h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns a Handler that forwards to c.
func NewHandler(c Caller, opts Options) *Handler {
	r := mux.NewRouter()
	h := &Handler{
		c:      c,
		r:      r,
		known:  make(map[string]bool),
		user:   opts.User,
		hash:   []byte(opts.PasswordHash),
		logger: opts.Logger,
	}
	h.names = opts.Actions
	if h.names == nil {
		h.names = taskvisor.KnownActions()
	}
	for _, name := range h.names {
		h.known[name] = true
	}
	r.Use(h.authenticate)
	r.HandleFunc("/actions", h.listActions).Methods("GET")
	r.HandleFunc("/actions/{action}", h.doAction).Methods("POST")
	r.HandleFunc("/workers", h.getWorkers).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/ws", h.serveWs)
	return h
}

// Serve serves h on l until ctx is done.  At most maxConns connections
// are accepted at a time; zero means no limit.
func Serve(ctx context.Context, l net.Listener, h http.Handler, maxConns int) error {
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(l)
	}()
	select {
	case e := <-errc:
		return e
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
