/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


// Command excalidesk hosts the Excalidraw canvas on loopback with native AI generation,
// coordinated drawing files and checkpoints.
package main

import (
	"path/filepath"

	"excalidesk/internal/config"
	"excalidesk/internal/crash"
)

func main() {
	info := crash.Info{Details: crashDetails}
	if dir, err := config.ConfigDir(); err == nil {
		info.ReportDir = filepath.Join(dir, "crash")
	}
	defer crash.Recover(info)
	Execute()
}
