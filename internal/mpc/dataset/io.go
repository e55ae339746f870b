package dataset

import (
	"encoding/csv"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Synthetic 按共享种子生成确定性的回归数据，各方生成同一份后只保留自己的切片
// y = X·w + 0.5 + 噪声，w 的第 j 个分量为 (j%5+1)/10
func Synthetic(rows, cols int, seed int64) (*mat.Dense, *mat.VecDense) {
	rng := rand.New(rand.NewSource(seed))

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		sum := 0.5
		for j := 0; j < cols; j++ {
			v := rng.NormFloat64()
			x.Set(i, j, v)
			sum += v * float64(j%5+1) / 10
		}
		y.SetVec(i, sum+0.01*rng.NormFloat64())
	}
	return x, y
}

// SliceColumns 复制 [from, to) 列
func SliceColumns(x *mat.Dense, from, to int) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, to-from, nil)
	out.Copy(x.Slice(0, rows, from, to))
	return out
}

// SliceRows 复制 [from, to) 行
func SliceRows(x *mat.Dense, from, to int) *mat.Dense {
	_, cols := x.Dims()
	out := mat.NewDense(to-from, cols, nil)
	out.Copy(x.Slice(from, to, 0, cols))
	return out
}

// SliceVec 复制 [from, to) 分量
func SliceVec(v *mat.VecDense, from, to int) *mat.VecDense {
	out := mat.NewVecDense(to-from, nil)
	out.CopyVec(v.SliceVec(from, to))
	return out
}

// LoadCSV 读取带表头的数值 CSV；labelColumn 非空时将该列作为标签返回
func LoadCSV(path, labelColumn string) (*mat.Dense, *mat.VecDense, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return ReadCSV(f, labelColumn)
}

// ReadCSV 同 LoadCSV，从 r 读取
func ReadCSV(r io.Reader, labelColumn string) (*mat.Dense, *mat.VecDense, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to read csv header")
	}

	labelIdx := -1
	var schema []string
	for i, name := range header {
		name = strings.TrimSpace(name)
		if labelColumn != "" && name == labelColumn {
			labelIdx = i
			continue
		}
		schema = append(schema, name)
	}
	if labelColumn != "" && labelIdx < 0 {
		return nil, nil, nil, errors.Errorf("label column %q not found", labelColumn)
	}

	var values, labels []float64
	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "failed to read csv row %d", rows+1)
		}
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, nil, errors.Wrapf(err, "row %d column %s", rows+1, header[i])
			}
			if i == labelIdx {
				labels = append(labels, v)
			} else {
				values = append(values, v)
			}
		}
		rows++
	}
	if rows == 0 || len(schema) == 0 {
		return nil, nil, nil, errors.New("csv contains no feature values")
	}

	x := mat.NewDense(rows, len(schema), values)
	var y *mat.VecDense
	if labelIdx >= 0 {
		y = mat.NewVecDense(rows, labels)
	}
	return x, y, schema, nil
}
