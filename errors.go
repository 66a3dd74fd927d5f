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
	"errors"
)

var (
	ErrConfigInvalid = errors.New("Invalid node configuration")
	ErrAlreadyExists = errors.New("Node already exists")
	ErrNotFound      = errors.New("No such node")
	ErrSpawnFailed   = errors.New("Failed to spawn process")
	ErrChannelClosed = errors.New("Stem channel closed")
	ErrShutdown      = errors.New("Supervisor is shut down")
)

// Error codes carried inside stem replies so the Supervisor can surface the
// matching sentinel to callers without parsing message text.
const (
	codeAlreadyExists = "already-exists"
	codeNotFound      = "not-found"
	codeInvalidConfig = "invalid-config"
)

var errByCode = map[string]error{
	codeAlreadyExists: ErrAlreadyExists,
	codeNotFound:      ErrNotFound,
	codeInvalidConfig: ErrConfigInvalid,
}

// opError is a failure reported by the Stem.  Its text is the operator
// facing string; Is lets callers test against the sentinel errors above.
type opError struct {
	code string
	msg  string
}

func (e *opError) Error() string {
	return e.msg
}

func (e *opError) Is(target error) bool {
	return errByCode[e.code] == target
}
