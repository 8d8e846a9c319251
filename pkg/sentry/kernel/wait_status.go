// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

// WaitStatus surfaces the terminating wait status to a process-exit
// collaborator (spec §6 "Wait-status encoding"; spec §1 names the
// process-exit path as out of scope beyond this interface). Callers
// should not read this before Terminating() reports true.
func (k *Kernel) WaitStatus() (status uint32, ok bool) {
	if !k.Terminating() {
		return 0, false
	}
	return k.TerminationStatus(), true
}
