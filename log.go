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
	"strings"
	"sync"
	"time"
)

const MaxLogRecords = 1000

// LogRecord is one retained log line, with an id usable as a resume cursor
// by clients that poll the supervisor log.
type LogRecord struct {
	ID   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// RingLog retains the most recent log lines in memory.  It implements
// io.Writer so a log.Logger can be pointed straight at it.
type RingLog struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	mx         sync.Mutex
}

// NewRingLog returns an empty ring.  Ids start at the current time in
// nanoseconds so cursors held by clients stay invalid across a restart.
func NewRingLog() *RingLog {
	return &RingLog{
		maxRecords: MaxLogRecords,
		id:         time.Now().UnixNano(),
	}
}

// Write implements the Writer interface consumed by Logger.
func (l *RingLog) Write(b []byte) (int, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.records == nil {
		l.records = make([]LogRecord, l.maxRecords)
	}
	str := strings.Trim(string(b), "\n")
	for _, line := range strings.Split(str, "\n") {
		idx := l.numRecords % l.maxRecords
		l.id++
		l.records[idx] = LogRecord{ID: l.id, Time: time.Now(), Text: line}
		// numRecords keeps growing past maxRecords; it tracks the
		// next slot, not the population.
		l.numRecords++
	}
	return len(b), nil
}

// GetRecords returns retained records newer than last, oldest first, along
// with the id of the newest record.  Passing the returned id back in skips
// everything already seen; passing 0 returns everything retained.
func (l *RingLog) GetRecords(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last || l.records == nil {
		return nil, l.id
	}
	cnt := l.numRecords
	if cnt > l.maxRecords {
		cnt = l.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := l.numRecords - cnt
	for j := 0; j < cnt; j++ {
		r := l.records[index%l.maxRecords]
		if r.ID > last {
			recs = append(recs, r)
		}
		index++
	}
	return recs, l.id
}
