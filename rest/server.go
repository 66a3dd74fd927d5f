// Copyright 2026 The Stemvisor Authors
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

package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/stemvisor/stemvisor"
)

// Controller is the slice of the Supervisor the handler needs.  Tests
// substitute fakes.
type Controller interface {
	Create(cfg stemvisor.NodeConfig) error
	Destroy(name string) error
	Restart(name string) error
	Status(name string) ([]stemvisor.NodeStatus, error)
	GetLog(last int64) ([]stemvisor.LogRecord, int64)
	StemPID() int
}

// Handler exposes a Controller over HTTP.  The control plane is meant to
// stay local; bind the listener to loopback or a unix socket.
type Handler struct {
	name string
	c    Controller
	r    *mux.Router
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		h.internalError(w, e)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	b, err := json.Marshal(e)
	if err != nil {
		h.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(e.Code)
	w.Write(b)
}

// opError maps the supervision errors onto HTTP status codes.
func (h *Handler) opError(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	switch {
	case errors.Is(err, stemvisor.ErrAlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, stemvisor.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, stemvisor.ErrChannelClosed),
		errors.Is(err, stemvisor.ErrShutdown):
		code = http.StatusServiceUnavailable
	}
	h.writeError(w, &Error{Code: code, Message: err.Error()})
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.c.Status("")
	if err != nil {
		h.opError(w, err)
		return
	}
	h.writeJson(w, &SupervisorInfo{
		Name:    h.name,
		StemPID: h.c.StemPID(),
		Nodes:   len(nodes),
	})
}

func (h *Handler) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.c.Status("")
	if err != nil {
		h.opError(w, err)
		return
	}
	if nodes == nil {
		nodes = []stemvisor.NodeStatus{}
	}
	h.writeJson(w, nodes)
}

func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	nodes, err := h.c.Status(name)
	if err != nil {
		h.opError(w, err)
		return
	}
	if len(nodes) == 0 {
		h.writeError(w, &Error{http.StatusNotFound, "Node not found"})
		return
	}
	h.writeJson(w, nodes[0])
}

func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
		return
	}
	cfg, err := stemvisor.ParseConfigJSON(body)
	if err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
		return
	}
	if err := h.c.Create(cfg); err != nil {
		h.opError(w, err)
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) destroyNode(w http.ResponseWriter, r *http.Request) {
	if err := h.c.Destroy(mux.Vars(r)["node"]); err != nil {
		h.opError(w, err)
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) destroyAll(w http.ResponseWriter, r *http.Request) {
	if err := h.c.Destroy(""); err != nil {
		h.opError(w, err)
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) restartNode(w http.ResponseWriter, r *http.Request) {
	if err := h.c.Restart(mux.Vars(r)["node"]); err != nil {
		h.opError(w, err)
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) restartAll(w http.ResponseWriter, r *http.Request) {
	if err := h.c.Restart(""); err != nil {
		h.opError(w, err)
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	var last int64
	if q := r.URL.Query().Get("last"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			h.writeError(w, &Error{http.StatusBadRequest, "Bad cursor"})
			return
		}
		last = v
	}
	recs, id := h.c.GetLog(last)
	if recs == nil {
		recs = []stemvisor.LogRecord{}
	}
	h.writeJson(w, &LogPage{Records: recs, Last: id})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler wires the routes for a controller.  The name shows up in the
// root info document.
func NewHandler(name string, c Controller) *Handler {
	r := mux.NewRouter()
	h := &Handler{name: name, c: c, r: r}
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/nodes", h.listNodes).Methods("GET")
	r.HandleFunc("/nodes", h.createNode).Methods("POST")
	r.HandleFunc("/nodes", h.destroyAll).Methods("DELETE")
	r.HandleFunc("/nodes/restart", h.restartAll).Methods("POST")
	r.HandleFunc("/nodes/{node}", h.getNode).Methods("GET")
	r.HandleFunc("/nodes/{node}", h.destroyNode).Methods("DELETE")
	r.HandleFunc("/nodes/{node}/restart", h.restartNode).Methods("POST")
	return h
}
