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

package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlnoga/radnorm/internal/fileaccess"
	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/ops"
	"github.com/mlnoga/radnorm/internal/ops/norm"
)

// HTTP front end for normalization jobs. Progress is streamed back as plain text
type Server struct {
	Store      fileaccess.FileAccess
	Registry   *prometheus.Registry
	Observer   metrics.Observer // diagnostics of all jobs, exported on /metrics
	Sandboxed  bool             // only relative paths inside the working directory tree
	MaxThreads int              // 0 for GOMAXPROCS
}

func NewServer(store fileaccess.FileAccess, sandboxed bool) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		Store:     store,
		Registry:  reg,
		Observer:  metrics.NewPrometheusObserver(reg),
		Sandboxed: sandboxed,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/normalize", s.postNormalize)
			v1.POST("/stack", s.postStack)
			v1.POST("/validate", s.postValidate)
			v1.POST("/job", s.postJob)
		}
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	return r
}

// Listens and serves on the given address, e.g. ":8080"
func (s *Server) Serve(addr string) error {
	return s.Router().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Binds the request arguments and switches the response to streamed plain text.
// Returns false if the request was rejected
func (s *Server) begin(c *gin.Context, args interface{}) (*ops.Context, bool) {
	if err := c.ShouldBindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	logWriter := c.Writer
	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return nil, false
	}
	oc := ops.NewContext(logWriter, s.Store, s.Observer)
	oc.Sandboxed = s.Sandboxed
	if s.MaxThreads > 0 {
		oc.MaxThreads = s.MaxThreads
	}
	return oc, true
}

// Materializes the promises and reports the outcome on the response stream
func run(c *gin.Context, oc *ops.Context, promises []ops.Promise, err error) {
	if err == nil {
		_, err = ops.MaterializeAll(promises, oc.MaxThreads, true)
	}
	if err != nil {
		fmt.Fprintf(oc.Log, "Error: %s\n", err.Error())
	} else {
		fmt.Fprintf(oc.Log, "Done\n")
	}
	c.Writer.Flush()
}

type postNormalizeArgs struct {
	Candidate  string            `json:"candidate"`
	References []string          `json:"references"` // file patterns, time stacked into one reference
	NoData     *uint16           `json:"nodata,omitempty"`
	TimeStack  *norm.OpTimeStack `json:"timeStack"`
	Normalize  *norm.OpNormalize `json:"normalize"`
	Out        string            `json:"out"`
}

func (s *Server) postNormalize(c *gin.Context) {
	args := postNormalizeArgs{
		TimeStack: norm.NewOpTimeStackDefault(),
		Normalize: norm.NewOpNormalizeDefault(),
	}
	oc, ok := s.begin(c, &args)
	if !ok {
		return
	}
	promises, err := normalizePromises(&args, oc)
	run(c, oc, promises, err)
}

func normalizePromises(args *postNormalizeArgs, oc *ops.Context) ([]ops.Promise, error) {
	candidate, err := ops.NewOpLoad(0, args.Candidate, args.NoData).MakePromises(nil, oc)
	if err != nil {
		return nil, err
	}
	refStack := ops.NewOpSequence(ops.NewOpLoadMany(args.References, args.NoData), args.TimeStack)
	reference, err := refStack.MakePromises(nil, oc)
	if err != nil {
		return nil, err
	}
	normalized, err := args.Normalize.MakePromises(append(candidate, reference...), oc)
	if err != nil {
		return nil, err
	}
	return ops.NewOpSave(args.Out).MakePromises(normalized, oc)
}

type postStackArgs struct {
	FilePatterns []string          `json:"filePatterns"`
	NoData       *uint16           `json:"nodata,omitempty"`
	TimeStack    *norm.OpTimeStack `json:"timeStack"`
	Out          string            `json:"out"`
}

func (s *Server) postStack(c *gin.Context) {
	args := postStackArgs{TimeStack: norm.NewOpTimeStackDefault()}
	oc, ok := s.begin(c, &args)
	if !ok {
		return
	}
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany(args.FilePatterns, args.NoData),
		args.TimeStack,
		ops.NewOpSave(args.Out),
	)
	promises, err := seq.MakePromises(nil, oc)
	run(c, oc, promises, err)
}

type postValidateArgs struct {
	A      string `json:"a"`
	B      string `json:"b"`
	DeltaE bool   `json:"deltaE"`
}

func (s *Server) postValidate(c *gin.Context) {
	var args postValidateArgs
	oc, ok := s.begin(c, &args)
	if !ok {
		return
	}
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany([]string{args.A, args.B}, nil),
		norm.NewOpValidate(args.DeltaE),
	)
	promises, err := seq.MakePromises(nil, oc)
	run(c, oc, promises, err)
}

// Runs an arbitrary operator sequence posted as JSON
func (s *Server) postJob(c *gin.Context) {
	seq := ops.NewOpSequenceDefault()
	oc, ok := s.begin(c, seq)
	if !ok {
		return
	}
	promises, err := seq.MakePromises(nil, oc)
	run(c, oc, promises, err)
}
