// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fileaccess

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/mlnoga/radnorm/internal/errs"
)

// In-memory S3 fake. Listing returns one key per page to exercise continuation tokens
type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func (f *fakeS3) GetObject(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
	keys := []string{}
	for k := range f.objects {
		prefix := *in.Bucket + "/" + *in.Prefix
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(*in.Bucket)+1:])
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if start < len(keys) {
		out.Contents = []*s3.Object{{Key: aws.String(keys[start])}}
	}
	if start+1 < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[start+1])
	}
	return out, nil
}

func TestSplitS3Path(t *testing.T) {
	bucket, key, err := SplitS3Path("s3://imagery/2020/scene.fits")
	if err != nil || bucket != "imagery" || key != "2020/scene.fits" {
		t.Errorf("got %s %s %v; want imagery 2020/scene.fits <nil>", bucket, key, err)
	}
	if _, _, err := SplitS3Path("s3://imagery"); err == nil {
		t.Errorf("expected error for path without key")
	}
	if _, _, err := SplitS3Path("/tmp/x.fits"); err == nil {
		t.Errorf("expected error for local path")
	}
}

func TestS3RoundTripAndList(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	r := NewRouter(NewS3Access(fake))

	for _, p := range []string{"s3://b/stack/a.fits", "s3://b/stack/b.fits", "s3://b/stack/c.tif", "s3://b/other/d.fits"} {
		if err := r.WriteObject(p, []byte(p)); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	data, err := r.ReadObject("s3://b/stack/b.fits")
	if err != nil || string(data) != "s3://b/stack/b.fits" {
		t.Errorf("got %q %v; want object contents", string(data), err)
	}

	list, err := r.ListObjects("s3://b/stack/*.fits")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"s3://b/stack/a.fits", "s3://b/stack/b.fits"}
	if len(list) != len(want) || list[0] != want[0] || list[1] != want[1] {
		t.Errorf("got %v; want %v", list, want)
	}

	_, err = r.ReadObject("s3://b/missing.fits")
	if !errors.Is(err, errs.ErrIOFailure) {
		t.Errorf("got %v; want IO failure", err)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := LocalFileSystem{}
	p := filepath.Join(dir, "sub", "x.bin")
	if err := fs.WriteObject(p, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := fs.ReadObject(p)
	if err != nil || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("got %v %v; want [1 2 3] <nil>", data, err)
	}
	list, err := fs.ListObjects(filepath.Join(dir, "sub", "*.bin"))
	if err != nil || len(list) != 1 {
		t.Errorf("got %v %v; want one match", list, err)
	}
	_, err = fs.ReadObject(filepath.Join(dir, "nope"))
	if !errors.Is(err, errs.ErrIOFailure) {
		t.Errorf("got %v; want IO failure", err)
	}
}

func TestRouterWithoutS3(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.ReadObject("s3://b/k")
	if !errors.Is(err, errs.ErrIOFailure) {
		t.Errorf("got %v; want IO failure", err)
	}
}
