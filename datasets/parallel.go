package datasets

import (
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
)

// Parallelize wraps ds so that Yield calls run concurrently on the given
// number of workers, buffering ready batches. With workers <= 1 the dataset
// is returned unchanged.
func Parallelize(ds train.Dataset, workers int) train.Dataset {
	if workers <= 1 {
		return ds
	}
	return data.CustomParallel(ds).Parallelism(workers).Buffer(2 * workers).Start()
}
