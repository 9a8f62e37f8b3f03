/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	applog "excalidesk/internal/log"
	"excalidesk/internal/telemetry"
	"excalidesk/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Uploader sends a finished report somewhere. telemetry.Client implements it.
type Uploader interface {
	UploadCrash(report []byte)
}

// Info describes where reports go and what state to include in them.
type Info struct {
	// ReportDir receives crash-*.log files. Empty means the OS temp dir.
	ReportDir string
	// Details, if set, is called after the panic for extra report lines
	// (pending bridge requests, open drawings dir, ...).
	Details func() map[string]string
	// Uploader defaults to the process-wide telemetry client, which only sends when opted in.
	Uploader Uploader
}

// Recover captures a panic, logs it with its stack, writes a report file, offers it to the
// uploader and exits with status 2.
//
// Usage: defer crash.Recover(info)
func Recover(info Info) {
	if r := recover(); r != nil {
		l := applog.WithComponent("crash")
		stack := debug.Stack()
		l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

		report := buildReport(info, r, stack, time.Now())
		path, err := writeReport(info.ReportDir, report, time.Now())
		if err != nil {
			l.Error("write crash report failed", slog.Any("err", err))
		}
		up := info.Uploader
		if up == nil {
			up = telemetry.Default()
		}
		up.UploadCrash(report)

		if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", path); err != nil {
			l.Error("failed to write crash message to stderr", slog.Any("err", err))
		}
		exitFn(2)
	}
}

func buildReport(info Info, panicVal any, stack []byte, now time.Time) []byte {
	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Excalidesk Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", now.Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if info.Details != nil {
		details := safeDetails(info.Details)
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = fmt.Fprintf(&buf, "%s: %s\n", k, details[k])
		}
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))
	return buf.Bytes()
}

// safeDetails keeps a second panic inside Details from losing the report.
func safeDetails(fn func() map[string]string) (out map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			out = map[string]string{"DetailsError": fmt.Sprint(r)}
		}
	}()
	return fn()
}

func writeReport(dir string, report []byte, now time.Time) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("crash-%s-*.log", now.Format("20060102-150405")))
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(report); err != nil {
		_ = f.Close()
		return path, err
	}
	_ = f.Sync()
	return path, f.Close()
}
