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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	nl "github.com/mlnoga/radnorm/internal"
	"github.com/mlnoga/radnorm/internal/config"
	"github.com/mlnoga/radnorm/internal/fileaccess"
	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/ops"
	"github.com/mlnoga/radnorm/internal/ops/norm"
	"github.com/mlnoga/radnorm/internal/pif"
	"github.com/mlnoga/radnorm/internal/rest"
	"github.com/mlnoga/radnorm/internal/timestack"
	"github.com/mlnoga/radnorm/internal/transform"
)

const version = "0.1.0"

var totalMiBs = memory.TotalMemory() / 1024 / 1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var configFile = flag.String("config", "", "load settings from YAML or JSON `file`; flags given explicitly override it")
var out = flag.String("out", "out.fits", "save output to `file`, FITS or TIFF by suffix, optionally .gz. Use %d for the image ID with several outputs")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var lutFile = flag.String("lut", "", "save lookup tables to `file` when normalizing, or read them when applying. .zst or .gz compress")
var tsFile = flag.String("transformations", "", "save gains and offsets as JSON to `file` when normalizing")

var timeStack = flag.String("timeStack", "mean_with_uniform_weight", "time stack method for the references, one of skip, mean_with_uniform_weight")
var pifMethod = flag.String("pif", "filter_nodata", "PIF method, one of skip, filter_nodata, filter_pca, filter_robust, filter_histogram")
var trMethod = flag.String("transform", "moment_linear", "transformation method, one of skip, moment_linear, ols_linear, robust_linear")

var pcaThreshold = flag.Float64("pcaThreshold", 30, "PCA filter: max distance from the principal axis")
var robustThreshold = flag.Float64("robustThreshold", 1000, "robust filter: max distance from the robust line")
var maxSamples = flag.Int("maxSamples", 100000, "robust filter: max pixel pairs used to fit the line, 0=all")
var histBins = flag.Int("histBins", 10, "histogram filter: bins per axis")
var histThreshold = flag.Float64("histThreshold", 0.1, "histogram filter: min bin population relative to the most popular bin")
var topK = flag.Int("topK", 0, "histogram filter: select the k most popular bins instead, 0=use threshold")
var rough = flag.Bool("rough", false, "histogram filter: select the bounding box of the popular bins")

var checkMetadata = flag.Bool("checkMetadata", true, "require identical georeferencing for time stacking")
var nodata = flag.Int("nodata", -1, "pixel value marking invalid pixels in the inputs, -1=none")
var metricsLog = flag.Bool("metrics", false, "log structured diagnostics to stderr")
var metricsJSON = flag.Bool("metricsJSON", false, "write diagnostics as JSON events instead of console text")
var deltaE = flag.Bool("deltaE", false, "also report the mean CIE76 color difference when validating 3 band images")

var stMemory = flag.Int64("stMemory", int64((totalMiBs*7)/10), "total MiB of memory to use for time stacking, default=0.7x physical memory")
var s3Region = flag.String("s3Region", "", "AWS region for s3://bucket/key paths, blank=no S3 access")

var addr = flag.String("addr", ":8080", "listen address for serve")
var chroot = flag.String("chroot", "", "serve: change file system root to `dir` before serving")
var setuid = flag.Int("setuid", -1, "serve: change user id before serving, -1=keep")

func main() {
	logWriter := nl.Log
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `radnorm Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (normalize|stack|apply|validate|stats|job|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  normalize Normalize the first image to the time stack of the others
  stack     Time stack input images
  apply     Apply lookup tables from -lut to input images
  validate  Score two images by their sum of per band RMSE
  stats     Show input image statistics
  job       Run operator sequences from JSON files
  serve     Serve the REST API
  legal     Show license and attribution information
  version   Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if *out != "" && !strings.Contains(*out, "%d") && !fileaccess.IsS3Path(*out) {
			*log = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".log"
		} else {
			*log = ""
		}
	}
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}
	if *log != "" && args[0] != "legal" && args[0] != "version" && args[0] != "help" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s': %s\n", *log, err.Error())
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatalf("Could not create CPU profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatalf("Could not start CPU profile: %s\n", err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := loadConfig()
	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	store, err := newStore()
	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	var obs metrics.Observer = metrics.Nop{}
	if cfg.Metrics && *metricsJSON {
		obs = metrics.NewLogObserver(os.Stderr)
	} else if cfg.Metrics {
		obs = metrics.NewConsoleLogObserver(os.Stderr)
	}
	c := ops.NewContext(logWriter, store, obs)
	c.StackMemoryMB = int(*stMemory)

	switch args[0] {
	case "normalize":
		err = cmdNormalize(args[1:], cfg, c)
	case "stack":
		err = cmdStack(args[1:], cfg, c)
	case "apply":
		err = cmdApply(args[1:], cfg, c)
	case "validate":
		err = cmdValidate(args[1:], cfg, c)
	case "stats":
		err = run(ops.NewOpSequence(ops.NewOpLoadMany(args[1:], cfg.NoData), norm.NewOpStats("")), c)
	case "job":
		err = cmdJob(args[1:], c)
	case "serve":
		err = cmdServe(store, logWriter)
	case "legal":
		fmt.Fprint(logWriter, legal)
		return
	case "version":
		fmt.Fprintf(logWriter, "Version %s on %s with %d cores, %d KiB L2 cache, %d MiB memory\n",
			version, cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, cpuid.CPU.Cache.L2/1024, totalMiBs)
		return
	case "help", "?":
		flag.Usage()
		return
	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	elapsed := time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatalf("Could not create memory profile: %s\n", err.Error())
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatalf("Could not write allocation profile: %s\n", err.Error())
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogSync()
}

// Loads the config file, if any, and applies explicitly given flags on top
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(fileaccess.LocalFileSystem{}, *configFile); err != nil {
			return nil, err
		}
	}
	var err error
	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "timeStack":
			cfg.TimeStack, err = timestack.ParseMethod(*timeStack)
		case "pif":
			cfg.PIF, err = pif.ParseMethod(*pifMethod)
		case "transform":
			cfg.Transformation, err = transform.ParseMethod(*trMethod)
		case "pcaThreshold":
			cfg.PIFOptions.PCAThreshold = *pcaThreshold
		case "robustThreshold":
			cfg.PIFOptions.RobustThreshold = *robustThreshold
		case "maxSamples":
			cfg.PIFOptions.MaxSamples = *maxSamples
		case "histBins":
			cfg.PIFOptions.HistogramBins = *histBins
		case "histThreshold":
			cfg.PIFOptions.HistogramThreshold = *histThreshold
		case "topK":
			cfg.PIFOptions.TopK = *topK
		case "rough":
			cfg.PIFOptions.Rough = *rough
		case "checkMetadata":
			cfg.CheckMetadata = *checkMetadata
		case "nodata":
			cfg.NoData, err = parseNoData(*nodata)
		case "metrics":
			cfg.Metrics = *metricsLog
		}
	})
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Converts the nodata flag value, where -1 means none
func parseNoData(v int) (*uint16, error) {
	if v == -1 {
		return nil, nil
	}
	if v < 0 || v > 65535 {
		return nil, fmt.Errorf("nodata value %d outside of -1..65535", v)
	}
	res := uint16(v)
	return &res, nil
}

// Local file system, plus S3 if a region is given
func newStore() (fileaccess.FileAccess, error) {
	if *s3Region == "" {
		return fileaccess.NewRouter(nil), nil
	}
	s3, err := fileaccess.NewS3AccessForRegion(*s3Region)
	if err != nil {
		return nil, err
	}
	return fileaccess.NewRouter(s3), nil
}

// Materializes all outputs of the operator, discarding them
func run(op ops.Operator, c *ops.Context) error {
	m, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Running with these settings:\n%s\n\n", string(m))
	promises, err := op.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

func cmdNormalize(args []string, cfg *config.Config, c *ops.Context) error {
	if len(args) < 2 {
		return fmt.Errorf("normalize needs a candidate and at least one reference image")
	}
	candidate, err := ops.NewOpLoad(0, args[0], cfg.NoData).MakePromises(nil, c)
	if err != nil {
		return err
	}
	reference, err := ops.NewOpSequence(
		ops.NewOpLoadMany(args[1:], cfg.NoData),
		norm.NewOpTimeStack(cfg.TimeStack, cfg.CheckMetadata),
	).MakePromises(nil, c)
	if err != nil {
		return err
	}
	opNorm := norm.NewOpNormalize(cfg)
	opNorm.LUTFile, opNorm.TransformationsFile = *lutFile, *tsFile
	fmt.Fprintf(c.Log, "Normalizing with these settings:\n%v\n", cfg)
	normalized, err := opNorm.MakePromises(append(candidate, reference...), c)
	if err != nil {
		return err
	}
	saved, err := ops.NewOpSave(*out).MakePromises(normalized, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(saved, 1, true)
	return err
}

func cmdStack(args []string, cfg *config.Config, c *ops.Context) error {
	return run(ops.NewOpSequence(
		ops.NewOpLoadMany(args, cfg.NoData),
		norm.NewOpTimeStack(cfg.TimeStack, cfg.CheckMetadata),
		ops.NewOpSave(*out),
	), c)
}

func cmdApply(args []string, cfg *config.Config, c *ops.Context) error {
	if *lutFile == "" {
		return fmt.Errorf("apply needs lookup tables or transformations from -lut")
	}
	if len(args) > 1 && !strings.Contains(*out, "%d") {
		return fmt.Errorf("applying to %d images needs %%d in the output file pattern", len(args))
	}
	return run(ops.NewOpSequence(
		ops.NewOpLoadMany(args, cfg.NoData),
		ops.NewOpForEach(norm.NewOpApplyLUT(*lutFile)),
		ops.NewOpForEach(ops.NewOpSave(*out)),
	), c)
}

func cmdValidate(args []string, cfg *config.Config, c *ops.Context) error {
	if len(args) != 2 {
		return fmt.Errorf("validate needs exactly two images")
	}
	return run(ops.NewOpSequence(
		ops.NewOpLoadMany(args, cfg.NoData),
		norm.NewOpValidate(*deltaE),
	), c)
}

// Runs operator sequences stored as JSON
func cmdJob(args []string, c *ops.Context) error {
	if len(args) == 0 {
		return fmt.Errorf("job needs at least one JSON file")
	}
	for _, fileName := range args {
		data, err := c.Store.ReadObject(fileName)
		if err != nil {
			return err
		}
		seq := ops.NewOpSequenceDefault()
		if err := json.Unmarshal(data, seq); err != nil {
			return fmt.Errorf("parse '%s': %w", fileName, err)
		}
		fmt.Fprintf(c.Log, "Running job %s\n", fileName)
		if err := run(seq, c); err != nil {
			return err
		}
	}
	return nil
}

func cmdServe(store fileaccess.FileAccess, logWriter io.Writer) error {
	if err := rest.MakeSandbox(*chroot, *setuid, logWriter); err != nil {
		return err
	}
	s := rest.NewServer(store, true)
	fmt.Fprintf(logWriter, "Serving on %s\n", *addr)
	return s.Serve(*addr)
}
