package dataset

import (
	"gonum.org/v1/gonum/mat"
)

// Way 数据切分方式
type Way string

const (
	// Vertical 按特征切分：各方持有全部样本的不同列
	Vertical Way = "VERTICAL"
	// Horizontal 按样本切分：各方持有相同列的不同样本
	Horizontal Way = "HORIZONTAL"
)

// Valid 是否为已知切分方式
func (w Way) Valid() bool {
	return w == Vertical || w == Horizontal
}

// Axis 分区沿哪个轴切出
type Axis string

const (
	AxisRows    Axis = "rows"
	AxisColumns Axis = "columns"
)

// AxisFor 切分方式对应的分区轴
func AxisFor(way Way) Axis {
	if way == Vertical {
		return AxisColumns
	}
	return AxisRows
}

// DTypeFloat64 目前唯一支持的元素类型
const DTypeFloat64 = "float64"

// Partition 分区元数据（只含形状，不含数据）
type Partition struct {
	Owner     string   `json:"owner"`
	Axis      Axis     `json:"axis"`
	Rows      int      `json:"rows"`
	Cols      int      `json:"cols"`
	DType     string   `json:"dtype"`
	Schema    []string `json:"schema,omitempty"`
	HasLabels bool     `json:"has_labels"`
}

// Local 本方持有的分区数据，只在本进程内使用
type Local struct {
	Owner  string
	X      *mat.Dense
	Labels *mat.VecDense
	Schema []string
}

// Partition 本方分区的元数据
func (l *Local) Partition(way Way) Partition {
	p := Partition{
		Owner:     l.Owner,
		Axis:      AxisFor(way),
		DType:     DTypeFloat64,
		Schema:    append([]string(nil), l.Schema...),
		HasLabels: l.Labels != nil,
	}
	if l.X != nil {
		p.Rows, p.Cols = l.X.Dims()
	}
	return p
}

// PartitionedDataset 各方分区（按参与方名称排序）及切分方式
type PartitionedDataset struct {
	Way        Way
	Partitions []Partition
	// Local 本方数据；Combine 的结果不含数据
	Local *Local
}
