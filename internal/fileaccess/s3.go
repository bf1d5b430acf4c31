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
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"github.com/mlnoga/radnorm/internal/errs"
)

// Implementation of file access using AWS S3, for paths of the form s3://bucket/key
type S3Access struct {
	s3Api s3iface.S3API
}

func NewS3Access(s3Api s3iface.S3API) *S3Access {
	return &S3Access{s3Api: s3Api}
}

// Creates S3 access from the default AWS credential chain for the given region.
// No request is made until the first object is accessed.
func NewS3AccessForRegion(region string) (*S3Access, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return NewS3Access(s3.New(sess)), nil
}

// Lists all keys under the literal prefix of the pattern, keeping those matching the
// wildcard pattern. Follows continuation tokens until the listing is complete.
func (a *S3Access) ListObjects(pattern string) ([]string, error) {
	bucket, keyPattern, err := SplitS3Path(pattern)
	if err != nil {
		return nil, errs.IO("list", pattern, err)
	}
	prefix := keyPattern
	if i := strings.IndexAny(prefix, "*?["); i >= 0 {
		prefix = prefix[:i]
	}

	params := s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	result := []string{}
	for {
		listing, err := a.s3Api.ListObjectsV2(&params)
		if err != nil {
			return nil, errs.IO("list", pattern, errors.Wrapf(err, "listing bucket %s", bucket))
		}
		for _, obj := range listing.Contents {
			if obj.Key == nil {
				continue
			}
			if ok, _ := path.Match(keyPattern, *obj.Key); ok {
				result = append(result, s3Scheme+bucket+"/"+*obj.Key)
			}
		}
		if listing.IsTruncated == nil || !*listing.IsTruncated || listing.NextContinuationToken == nil {
			break
		}
		params.ContinuationToken = listing.NextContinuationToken
	}
	return result, nil
}

func (a *S3Access) ReadObject(p string) ([]byte, error) {
	bucket, key, err := SplitS3Path(p)
	if err != nil {
		return nil, errs.IO("read", p, err)
	}
	out, err := a.s3Api.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errs.IO("read", p, errors.Wrapf(err, "getting object from bucket %s", bucket))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.IO("read", p, errors.Wrap(err, "reading object body"))
	}
	return data, nil
}

func (a *S3Access) WriteObject(p string, data []byte) error {
	bucket, key, err := SplitS3Path(p)
	if err != nil {
		return errs.IO("write", p, err)
	}
	_, err = a.s3Api.PutObject(&s3.PutObjectInput{
		Body:   bytes.NewReader(data),
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errs.IO("write", p, errors.Wrapf(err, "putting object to bucket %s", bucket))
	}
	return nil
}
