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

package stemvisor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Channel is one end of the Supervisor/Stem transport: a pair of
// unidirectional byte streams carrying newline-framed JSON messages.
// Frames within one direction arrive in send order.  The underlying
// streams are ordinary pipes, so a reader must tolerate frames arriving
// split across reads; bufio reassembles them here.
//
// A Channel does not survive a Stem restart.  The Supervisor builds a
// fresh pipe pair every time it execs a new Stem.
type Channel struct {
	r   *bufio.Reader
	rc  io.Closer
	w   io.WriteCloser
	wmx sync.Mutex
}

// NewChannel wraps a read stream and a write stream as a message channel.
func NewChannel(r io.ReadCloser, w io.WriteCloser) *Channel {
	return &Channel{r: bufio.NewReader(r), rc: r, w: w}
}

// Send writes one framed message.  Concurrent senders are serialized so
// partial frames never interleave.
func (c *Channel) Send(m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	c.wmx.Lock()
	defer c.wmx.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return nil
}

// Receive blocks until a full frame is available and decodes it.  When the
// peer has exited and the stream is drained it returns ErrChannelClosed;
// the caller must correlate that with the peer's process exit before
// reacting, since the descriptor can close slightly before or after the
// exit is observable.
func (c *Channel) Receive() (Message, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return Message{}, ErrChannelClosed
			}
			return Message{}, fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		if len(line) <= 1 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, fmt.Errorf("malformed frame: %v", err)
		}
		return m, nil
	}
}

// Close releases both streams.
func (c *Channel) Close() error {
	err := c.w.Close()
	if e := c.rc.Close(); err == nil {
		err = e
	}
	return err
}
