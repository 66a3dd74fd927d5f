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

// Package stemvisor keeps a tree of long-running worker processes alive.
//
// The tree has three tiers.  A Supervisor process owns a single child, the
// Stem, and talks to it over a pair of pipes inherited across exec.  The
// Stem owns the actual worker processes: it spawns them, collects their
// exits, and revives unplanned deaths under an exponential backoff policy.
// Workers run an application payload registered by the embedding program.
//
// If the Stem itself dies, the Supervisor execs a brand new Stem from the
// on-disk executable and replays every desired node configuration against
// it.  A fresh exec, rather than any reuse of in-process state, is what
// guarantees the replacement starts from a clean slate.  Workers that lose
// their Stem notice on their own: every supervised process polls its parent
// process id and terminates itself when the parent changes.
//
// All control flows through the Supervisor.  It never touches worker
// processes directly, so recovering from most failures only ever requires
// restarting the Stem, not the whole tree.
package stemvisor
