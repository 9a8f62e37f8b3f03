/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cloud

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeObject struct {
	data string
	etag string
}

// fakeS3 is an in-memory ObjectAPI.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	gets    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

func (f *fakeS3) put(key, data, etag string) {
	f.mu.Lock()
	f.objects[key] = fakeObject{data: data, etag: etag}
	f.mu.Unlock()
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	}
	return &s3.HeadObjectOutput{ETag: aws.String(o.etag), ContentLength: aws.Int64(int64(len(o.data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(o.data)),
		ETag:          aws.String(o.etag),
		ContentLength: aws.Int64(int64(len(o.data))),
	}, nil
}

func newTestProvider(t *testing.T) (*S3Provider, *fakeS3, string) {
	t.Helper()
	root := t.TempDir()
	api := newFakeS3()
	p, err := NewS3WithClient(S3Config{Root: root, Bucket: "b", Prefix: "/drawings/"}, api)
	if err != nil {
		t.Fatalf("NewS3WithClient: %v", err)
	}
	return p, api, root
}

func TestS3ConfigValidation(t *testing.T) {
	if _, err := NewS3WithClient(S3Config{Root: t.TempDir()}, newFakeS3()); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := NewS3WithClient(S3Config{Bucket: "b"}, newFakeS3()); err == nil {
		t.Fatalf("expected missing root error")
	}
}

func TestResourceValuesLocalOnly(t *testing.T) {
	p, api, root := newTestProvider(t)
	path := filepath.Join(root, "local.excalidraw")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	api.put("drawings/local.excalidraw", "remote", "e1")

	rv, err := p.ResourceValues(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if rv.IsCloudItem {
		t.Fatalf("file without a sync record must be local-only: %+v", rv)
	}
	outside, err := p.ResourceValues(context.Background(), filepath.Join(t.TempDir(), "x"))
	if err != nil || outside != (ResourceValues{}) {
		t.Fatalf("outside root = %+v, %v", outside, err)
	}
	absent, err := p.ResourceValues(context.Background(), filepath.Join(root, "nowhere"))
	if err != nil || absent.IsCloudItem {
		t.Fatalf("missing everywhere = %+v, %v", absent, err)
	}
}

func TestMaterializeReportsProgressAndWritesRecord(t *testing.T) {
	p, api, root := newTestProvider(t)
	path := filepath.Join(root, "sub", "flow.excalidraw")
	payload := strings.Repeat("x", 100000)
	api.put("drawings/sub/flow.excalidraw", payload, "etag-1")

	rv, err := p.ResourceValues(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !rv.IsCloudItem || rv.IsDownloaded {
		t.Fatalf("remote-only file = %+v, want cloud item not downloaded", rv)
	}

	var fractions []float64
	if err := p.Materialize(context.Background(), path, func(f float64) { fractions = append(fractions, f) }); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != payload {
		t.Fatalf("materialized content mismatch (%v)", err)
	}
	if len(fractions) < 2 || fractions[0] != 0 || fractions[len(fractions)-1] != 1 {
		t.Fatalf("progress = %v, want 0 .. 1", fractions)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] || fractions[i] > 1 {
			t.Fatalf("progress not monotonic in [0,1]: %v", fractions)
		}
	}
	if _, err := os.Stat(SidecarPath(path)); err != nil {
		t.Fatalf("sync record missing: %v", err)
	}

	rv, err = p.ResourceValues(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !rv.IsCloudItem || !rv.IsDownloaded || rv.IsOutdated || rv.HasConflict || rv.DownloadRequested {
		t.Fatalf("after download = %+v, want downloaded and current", rv)
	}
}

func TestOutdatedAndConflict(t *testing.T) {
	p, api, root := newTestProvider(t)
	path := filepath.Join(root, "d.excalidraw")
	api.put("drawings/d.excalidraw", "v1", "e1")
	if err := p.Materialize(context.Background(), path, nil); err != nil {
		t.Fatal(err)
	}

	api.put("drawings/d.excalidraw", "v2", "e2")
	rv, err := p.ResourceValues(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !rv.IsOutdated || rv.HasConflict {
		t.Fatalf("remote changed only = %+v, want outdated without conflict", rv)
	}

	later := time.Now().Add(time.Hour)
	if err := os.WriteFile(path, []byte("local edit"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	rv, err = p.ResourceValues(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !rv.IsOutdated || !rv.HasConflict {
		t.Fatalf("both changed = %+v, want conflict", rv)
	}
}

func TestEvictKeepsCloudItem(t *testing.T) {
	p, api, root := newTestProvider(t)
	path := filepath.Join(root, "e.excalidraw")
	api.put("drawings/e.excalidraw", "data", "e1")
	if err := p.Materialize(context.Background(), path, nil); err != nil {
		t.Fatal(err)
	}
	if err := p.EvictLocalCopy(context.Background(), path); err != nil {
		t.Fatalf("EvictLocalCopy: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("local copy still present: %v", err)
	}
	rv, err := p.ResourceValues(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !rv.IsCloudItem || rv.IsDownloaded {
		t.Fatalf("after evict = %+v, want cloud item not downloaded", rv)
	}

	unsynced := filepath.Join(root, "never.excalidraw")
	if err := os.WriteFile(unsynced, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.EvictLocalCopy(context.Background(), unsynced); !errors.Is(err, ErrNotCloudItem) {
		t.Fatalf("evict unsynced err = %v, want ErrNotCloudItem", err)
	}
	if _, err := os.Stat(unsynced); err != nil {
		t.Fatalf("unsynced file must be kept: %v", err)
	}
}

func TestMaterializeMissingObject(t *testing.T) {
	p, _, root := newTestProvider(t)
	err := p.Materialize(context.Background(), filepath.Join(root, "missing"), nil)
	if !errors.Is(err, ErrNotCloudItem) {
		t.Fatalf("err = %v, want ErrNotCloudItem", err)
	}
}

func TestSidecarNames(t *testing.T) {
	got := SidecarPath(filepath.Join("a", "b.excalidraw"))
	if want := filepath.Join("a", ".b.excalidraw.exdsync"); got != want {
		t.Fatalf("SidecarPath = %q, want %q", got, want)
	}
	if !IsSidecar(got) || IsSidecar("b.excalidraw") {
		t.Fatalf("IsSidecar mismatch")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(context.Background(), Settings{Provider: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(Local); !ok {
		t.Fatalf("provider = %T, want Local", p)
	}
	if _, err := New(context.Background(), Settings{Provider: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	rv, _ := Local{}.ResourceValues(context.Background(), "/x")
	if rv.IsCloudItem {
		t.Fatalf("Local must never report cloud items")
	}
}
