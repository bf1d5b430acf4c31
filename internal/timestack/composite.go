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

package timestack

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/pbnjay/memory"

	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/raster"
)

// Loads one image of the stack on demand
type Loader func() (*raster.Image, error)

// Settings for compositing
type Options struct {
	CheckMetadata bool             // require identical georeferencing
	MaxThreads    int              // upper bound on parallel workers, GOMAXPROCS if zero
	MemoryMB      int              // memory budget for accumulators and loaded images, half of physical memory if zero
	Log           io.Writer        // progress output, discarded if nil
	Observer      metrics.Observer // diagnostics, discarded if nil
}

// Composites the images into their per pixel mean. Images are loaded one at a time
// per worker, so at most one image per worker is in memory besides the accumulators.
// The number of workers is bounded by MaxThreads and by the memory budget
func Composite(loaders []Loader, opts Options) (*raster.Image, error) {
	if len(loaders) == 0 {
		return nil, errors.New("no images to composite")
	}
	logWriter := opts.Log
	if logWriter == nil {
		logWriter = io.Discard
	}
	obs := metrics.OrNop(opts.Observer)
	start := time.Now()

	first, err := loaders[0]()
	if err != nil {
		return nil, err
	}
	workers := numWorkers(first, len(loaders), opts, logWriter)

	// worker w processes images w, w+workers, w+2*workers, ...
	accs := make([]*Accumulator, workers)
	workerErrs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			acc := NewAccumulator(first, opts.CheckMetadata)
			for i := w; i < len(loaders); i += workers {
				img := first
				if i > 0 {
					var err error
					if img, err = loaders[i](); err != nil {
						workerErrs[w] = err
						return
					}
				}
				if err := acc.Add(img); err != nil {
					workerErrs[w] = err
					return
				}
				fmt.Fprintf(logWriter, "%d: Added %s to time stack\n", img.ID, img.FileName)
			}
			accs[w] = acc
		}(w)
	}
	wg.Wait()
	for _, err := range workerErrs {
		if err != nil {
			return nil, err
		}
	}

	acc, err := reduce(accs)
	if err != nil {
		return nil, err
	}
	res, err := acc.Finalize()
	if err != nil {
		return nil, err
	}

	valid := res.Alpha.Count()
	for b := range res.Bands {
		obs.ValidPixels("timestack", b, valid, res.Pixels())
	}
	obs.Duration("timestack", time.Since(start))
	fmt.Fprintf(logWriter, "Time stack of %d images has %d of %d valid pixels (%.1f%%)\n",
		len(loaders), valid, res.Pixels(), 100*float64(valid)/float64(res.Pixels()))
	return res, nil
}

// Merges accumulators pairwise in parallel, until one remains
func reduce(accs []*Accumulator) (*Accumulator, error) {
	for len(accs) > 1 {
		half := (len(accs) + 1) / 2
		mergeErrs := make([]error, half)
		var wg sync.WaitGroup
		for i := 0; i+half < len(accs); i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				mergeErrs[i] = accs[i].Merge(accs[i+half])
			}(i)
		}
		wg.Wait()
		for _, err := range mergeErrs {
			if err != nil {
				return nil, err
			}
		}
		accs = accs[:half]
	}
	return accs[0], nil
}

// Number of parallel workers which fit the thread and memory limits. Each worker
// holds an accumulator and one loaded image
func numWorkers(first *raster.Image, numImages int, opts Options, logWriter io.Writer) int {
	maxThreads := opts.MaxThreads
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}
	budgetMB := int64(opts.MemoryMB)
	if budgetMB <= 0 {
		budgetMB = int64(memory.TotalMemory()/1024/1024) / 2
	}

	pixels, bands := int64(first.Pixels()), int64(first.NumBands())
	accBytes := pixels * bands * (8 + 4)
	imgBytes := pixels * (bands + 1) * 2
	perWorkerMB := (accBytes + imgBytes + 1024*1024 - 1) / (1024 * 1024)
	// the first image stays in memory until all workers are done
	fitting := (budgetMB - (imgBytes+1024*1024-1)/(1024*1024)) / perWorkerMB

	workers := int64(maxThreads)
	if fitting < workers {
		workers = fitting
	}
	if int64(numImages) < workers {
		workers = int64(numImages)
	}
	if workers < 1 {
		fmt.Fprintf(logWriter, "Warning: memory budget of %d MiB is below the %d MiB needed per worker, using one worker\n", budgetMB, perWorkerMB)
		workers = 1
	}
	fmt.Fprintf(logWriter, "Compositing %d images of %s with %d workers, each using %d MiB\n",
		numImages, first.DimensionsToString(), workers, perWorkerMB)
	return int(workers)
}
