/*
 * This file is part of the zvault-agent project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestStore points a Store at an httptest server standing in for an
// S3-compatible endpoint, since UploadWithContext/ListObjectsV2/DeleteObject
// all go over HTTP and the SDK has no in-process fake transport.
func newTestStore(t *testing.T, handler http.HandlerFunc) (*Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := New(Config{
		URL:       srv.URL,
		Region:    "us-east-1",
		Bucket:    "backups",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, srv
}

func TestListParsesObjectKeys(t *testing.T) {
	const body = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>backups</Name>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>tank-vms-a@auto-backup-2025-01-01T00:00:00Z</Key></Contents>
  <Contents><Key>tank-vms-b@auto-backup-2025-01-01T00:00:00Z</Key></Contents>
</ListBucketResult>`

	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, body)
	})

	keys, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{
		"tank-vms-a@auto-backup-2025-01-01T00:00:00Z",
		"tank-vms-b@auto-backup-2025-01-01T00:00:00Z",
	}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestUploadStreamPutsBodyUnderSinglePart(t *testing.T) {
	var gotBody string
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			gotBody = string(data)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	err := store.UploadStream(context.Background(), strings.NewReader("snapshot-bytes"), "tank-vms-a@auto-backup-2025-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("UploadStream: %v", err)
	}
	if gotBody != "snapshot-bytes" {
		t.Errorf("uploaded body = %q, want %q", gotBody, "snapshot-bytes")
	}
}

func TestDeleteWrapsFailureWithKey(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<?xml version="1.0"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	})

	err := store.Delete(context.Background(), "tank-vms-a@auto-backup-2025-01-01T00:00:00Z")
	if err == nil {
		t.Fatal("expected error")
	}
	storeErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error = %T, want *Error", err)
	}
	if storeErr.Key != "tank-vms-a@auto-backup-2025-01-01T00:00:00Z" {
		t.Errorf("Key = %q", storeErr.Key)
	}
}
