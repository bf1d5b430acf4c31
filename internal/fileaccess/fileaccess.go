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

// Package fileaccess reads and writes whole objects from the local file
// system or from S3, addressed by plain paths or s3://bucket/key URIs.
package fileaccess

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mlnoga/radnorm/internal/errs"
)

// Object store interface. Failures are returned as errs.IOFailure
type FileAccess interface {
	ListObjects(pattern string) ([]string, error)
	ReadObject(path string) ([]byte, error)
	WriteObject(path string, data []byte) error
}

const s3Scheme = "s3://"

// Returns true if the path addresses an S3 object
func IsS3Path(p string) bool { return strings.HasPrefix(p, s3Scheme) }

// Splits an s3://bucket/key URI into bucket and key
func SplitS3Path(p string) (bucket, key string, err error) {
	if !IsS3Path(p) {
		return "", "", errors.Errorf("not an S3 path: %s", p)
	}
	rest := p[len(s3Scheme):]
	slash := strings.Index(rest, "/")
	if slash <= 0 {
		return "", "", errors.Errorf("S3 path without key: %s", p)
	}
	return rest[:slash], rest[slash+1:], nil
}

// Implementation of file access using the local file system
type LocalFileSystem struct{}

// Expands wildcards with filepath.Glob. A pattern without matches yields an empty list
func (fs LocalFileSystem) ListObjects(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errs.IO("list", pattern, errors.Wrap(err, "globbing"))
	}
	return matches, nil
}

func (fs LocalFileSystem) ReadObject(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IO("read", path, errors.WithStack(err))
	}
	return data, nil
}

// Writes the file, creating intermediate directories as needed
func (fs LocalFileSystem) WriteObject(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return errs.IO("write", path, errors.Wrap(err, "creating directory"))
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.IO("write", path, errors.WithStack(err))
	}
	return nil
}

// Dispatches s3:// paths to S3 and all others to the local file system
type Router struct {
	Local FileAccess
	S3    FileAccess // may be nil if S3 is not configured
}

func NewRouter(s3 FileAccess) *Router {
	return &Router{Local: LocalFileSystem{}, S3: s3}
}

func (r *Router) pick(path string) (FileAccess, error) {
	if !IsS3Path(path) {
		return r.Local, nil
	}
	if r.S3 == nil {
		return nil, errs.IO("open", path, errors.New("S3 access not configured"))
	}
	return r.S3, nil
}

func (r *Router) ListObjects(pattern string) ([]string, error) {
	fa, err := r.pick(pattern)
	if err != nil {
		return nil, err
	}
	return fa.ListObjects(pattern)
}

func (r *Router) ReadObject(path string) ([]byte, error) {
	fa, err := r.pick(path)
	if err != nil {
		return nil, err
	}
	return fa.ReadObject(path)
}

func (r *Router) WriteObject(path string, data []byte) error {
	fa, err := r.pick(path)
	if err != nil {
		return err
	}
	return fa.WriteObject(path, data)
}
