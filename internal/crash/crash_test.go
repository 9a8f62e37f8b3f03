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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type recordingUploader struct{ reports [][]byte }

func (r *recordingUploader) UploadCrash(b []byte) { r.reports = append(r.reports, b) }

func TestBuildReportIncludesSortedDetails(t *testing.T) {
	info := Info{Details: func() map[string]string {
		return map[string]string{"PendingRequests": "2", "DrawingsDir": "/d"}
	}}
	s := string(buildReport(info, "boom", []byte("stacktrace"), time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
	for _, want := range []string{"Excalidesk Crash Report", "Timestamp: 2025-01-02T03:04:05Z", "Panic: boom", "stacktrace"} {
		if !strings.Contains(s, want) {
			t.Fatalf("report missing %q:\n%s", want, s)
		}
	}
	if strings.Index(s, "DrawingsDir: /d") > strings.Index(s, "PendingRequests: 2") {
		t.Fatalf("details not sorted:\n%s", s)
	}
}

func TestPanickingDetailsStillProduceReport(t *testing.T) {
	info := Info{Details: func() map[string]string { panic("nested") }}
	s := string(buildReport(info, "outer", nil, time.Now()))
	if !strings.Contains(s, "DetailsError: nested") || !strings.Contains(s, "Panic: outer") {
		t.Fatalf("report = %s", s)
	}
}

func TestRecoverWritesReportUploadsAndExits(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	code := 0
	oldExit := exitFn
	exitFn = func(c int) { code = c }
	defer func() { exitFn = oldExit }()

	dir := filepath.Join(t.TempDir(), "crash")
	up := &recordingUploader{}
	func() {
		defer Recover(Info{ReportDir: dir, Uploader: up})
		panic("kaboom")
	}()

	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "crash-*.log"))
	if len(files) != 1 {
		t.Fatalf("report files = %v, want one", files)
	}
	b, err := os.ReadFile(files[0])
	if err != nil || !strings.Contains(string(b), "Panic: kaboom") {
		t.Fatalf("report = %q, %v", b, err)
	}
	if len(up.reports) != 1 || string(up.reports[0]) != string(b) {
		t.Fatalf("uploaded report does not match file")
	}
}

func TestRecoverWithoutPanicDoesNothing(t *testing.T) {
	oldExit := exitFn
	exitFn = func(int) { t.Fatalf("exit called without a panic") }
	defer func() { exitFn = oldExit }()
	func() {
		defer Recover(Info{ReportDir: t.TempDir()})
	}()
}
