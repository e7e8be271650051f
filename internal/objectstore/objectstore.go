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

// Package objectstore wraps an S3-compatible endpoint: flat listing,
// chunked multipart streaming upload, and delete. Chunk size is fixed at
// 500MiB with a single in-flight part so upload pressure is transmitted
// straight back to the subprocess producing the stream.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// PartSize is the fixed multipart chunk size. With the 10,000-part cap it
// allows objects of up to about 4.77TiB, just short of the commonly
// supported 5TiB S3 maximum.
const PartSize = 500 * 1024 * 1024

// MaxInFlightParts caps concurrent part uploads at 1: a serial upload caps
// memory usage at one buffer and lets the uploader's pace naturally
// throttle the producing subprocess.
const MaxInFlightParts = 1

// Error wraps an underlying S3 API failure with the operation that caused it.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("objectstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("objectstore: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config describes how to reach an S3-compatible endpoint.
type Config struct {
	URL       string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Store is a thin, streaming-oriented client over a single S3 bucket.
type Store struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// New builds a Store from cfg. The endpoint is treated as S3-compatible
// (path-style addressing, HTTP allowed) rather than assumed to be AWS S3
// itself, matching the agent's "any S3-compatible backend" contract.
func New(cfg Config) (*Store, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.URL),
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, &Error{Op: "new session", Err: err}
	}

	client := s3.New(sess)
	uploader := s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
		u.PartSize = PartSize
		u.Concurrency = MaxInFlightParts
	})

	return &Store{bucket: cfg.Bucket, client: client, uploader: uploader}, nil
}

// List returns every key in the bucket's flat namespace, fully
// materialized. Listings are expected to stay in the low thousands.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return keys, nil
}

// UploadStream performs a chunked multipart upload of r to key. On any
// error the multipart upload is aborted by the SDK and key is left absent.
func (s *Store) UploadStream(ctx context.Context, r io.Reader, key string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return &Error{Op: "upload", Key: key, Err: err}
	}
	return nil
}

// Delete removes key from the bucket.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}
