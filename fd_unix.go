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

//go:build unix

package stemvisor

import (
	"os"

	"golang.org/x/sys/unix"
)

// setCloseOnExec marks a descriptor close-on-exec.  Descriptors that arrive
// across an exec had the flag stripped by dup2, so without this every child
// spawned from here would inherit them and keep the peer's stream open past
// our own death.
func setCloseOnExec(f *os.File) {
	unix.CloseOnExec(int(f.Fd()))
}
