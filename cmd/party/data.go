package party

import (
	"github.com/kashguard/go-secret-learn/internal/mpc/algo"
	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"gonum.org/v1/gonum/mat"
)

// loadLocal 读取本方分区：--data 指定的 CSV，或按共享种子生成的合成数据中本方的切片
func loadLocal(o *options, names []string, self, coordinator string) (*dataset.Local, error) {
	a, err := algo.Lookup(o.algorithmName())
	if err != nil {
		return nil, protocol.NewConfigurationError(self, "%v", err)
	}

	var local *dataset.Local
	if o.data != "" {
		x, y, schema, err := dataset.LoadCSV(o.data, o.labels)
		if err != nil {
			return nil, protocol.NewConfigurationError(self, "%v", err)
		}
		local = &dataset.Local{X: x, Labels: y, Schema: schema}
	} else {
		if o.syntheticRows <= 0 || o.syntheticCols < len(names) {
			return nil, protocol.NewConfigurationError(self,
				"synthetic dataset of %dx%d cannot be split over %d parties", o.syntheticRows, o.syntheticCols, len(names))
		}
		local = syntheticSlice(names, self, coordinator, o.partitionWay(), o.syntheticRows, o.syntheticCols, o.seed)
	}

	if !a.Supervised() {
		local.Labels = nil
	}
	return local, nil
}

// syntheticSlice 所有参与方生成同一份数据，只保留本方切片
// VERTICAL 下按列均分，标签只交给协调方；HORIZONTAL 下按行均分，各方持有本方行的标签
func syntheticSlice(names []string, self, coordinator string, way dataset.Way, rows, cols int, seed int64) *dataset.Local {
	x, y := dataset.Synthetic(rows, cols, seed)
	n := len(names)
	i := 0
	for idx, name := range names {
		if name == self {
			i = idx
		}
	}

	if way == dataset.Horizontal {
		from, to := i*rows/n, (i+1)*rows/n
		return &dataset.Local{X: dataset.SliceRows(x, from, to), Labels: dataset.SliceVec(y, from, to)}
	}

	from, to := i*cols/n, (i+1)*cols/n
	local := &dataset.Local{X: dataset.SliceColumns(x, from, to)}
	if self == coordinator {
		local.Labels = y
	}
	return local
}

func labelsOf(local *dataset.Local) *mat.VecDense {
	if local == nil {
		return nil
	}
	return local.Labels
}
