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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/stemvisor/stemvisor"
)

// Client talks to a Handler.  Timeouts are the caller's business; every
// method takes a context.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI of the API root
	auth   bool
	client *http.Client
}

// NewClient returns a Client handle.  The transport may be nil for the
// default; pass a configured one for TLS.  baseURI is the API root,
// without a trailing slash.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   baseURI,
		client: &http.Client{Transport: t},
	}
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/nodes"
	}
	return c.base + "/nodes/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, v interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", mimeJson)
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		e := &Error{}
		if json.Unmarshal(data, e) != nil || e.Message == "" {
			e = &Error{Code: res.StatusCode, Message: res.Status}
		}
		return e
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Info fetches the root document.
func (c *Client) Info(ctx context.Context) (*SupervisorInfo, error) {
	info := &SupervisorInfo{}
	if err := c.do(ctx, "GET", c.base+"/", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Nodes lists the status of every node.
func (c *Client) Nodes(ctx context.Context) ([]stemvisor.NodeStatus, error) {
	var nodes []stemvisor.NodeStatus
	if err := c.do(ctx, "GET", c.url(""), nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Node fetches one node's status.
func (c *Client) Node(ctx context.Context, name string) (*stemvisor.NodeStatus, error) {
	ns := &stemvisor.NodeStatus{}
	if err := c.do(ctx, "GET", c.url(name), nil, ns); err != nil {
		return nil, err
	}
	return ns, nil
}

// Create submits a new node configuration.
func (c *Client) Create(ctx context.Context, cfg stemvisor.NodeConfig) error {
	body, err := cfg.JSON()
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", c.url(""), body, nil)
}

// Destroy removes a node.
func (c *Client) Destroy(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", c.url(name), nil, nil)
}

// DestroyAll removes every node.
func (c *Client) DestroyAll(ctx context.Context) error {
	return c.do(ctx, "DELETE", c.url(""), nil, nil)
}

// Restart bounces a node, or every node when name is empty.
func (c *Client) Restart(ctx context.Context, name string) error {
	if name == "" {
		return c.do(ctx, "POST", c.base+"/nodes/restart", nil, nil)
	}
	return c.do(ctx, "POST", c.url(name)+"/restart", nil, nil)
}

// Log fetches retained supervisor log records newer than last.
func (c *Client) Log(ctx context.Context, last int64) (*LogPage, error) {
	page := &LogPage{}
	u := c.base + "/log"
	if last != 0 {
		u += "?last=" + strconv.FormatInt(last, 10)
	}
	if err := c.do(ctx, "GET", u, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}
