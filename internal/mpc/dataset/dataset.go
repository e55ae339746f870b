package dataset

import (
	"fmt"
	"math"
	"sort"

	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/pkg/errors"
)

// Build 校验本方分区并构造数据集
func Build(local *Local, way Way) (*PartitionedDataset, error) {
	if !way.Valid() {
		return nil, errors.Errorf("unknown partition way %q", way)
	}
	if local == nil || local.X == nil {
		owner := ""
		if local != nil {
			owner = local.Owner
		}
		return nil, protocol.NewPartitionShapeMismatchError(owner, "a feature matrix", "none")
	}

	p := local.Partition(way)
	if err := validatePartition(p, way); err != nil {
		return nil, err
	}

	for i := 0; i < p.Rows; i++ {
		for j := 0; j < p.Cols; j++ {
			if v := local.X.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, protocol.NewPartitionShapeMismatchError(local.Owner,
					"finite feature values", fmt.Sprintf("%v at (%d, %d)", v, i, j))
			}
		}
	}

	if local.Labels != nil {
		if n := local.Labels.Len(); n != p.Rows {
			return nil, protocol.NewPartitionShapeMismatchError(local.Owner,
				fmt.Sprintf("%d labels", p.Rows), fmt.Sprintf("%d labels", n))
		}
		for i := 0; i < p.Rows; i++ {
			if v := local.Labels.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, protocol.NewPartitionShapeMismatchError(local.Owner,
					"finite labels", fmt.Sprintf("%v at row %d", v, i))
			}
		}
	}

	return &PartitionedDataset{Way: way, Partitions: []Partition{p}, Local: local}, nil
}

func validatePartition(p Partition, way Way) error {
	if p.Rows <= 0 || p.Cols <= 0 {
		return protocol.NewPartitionShapeMismatchError(p.Owner,
			"positive shape", fmt.Sprintf("(%d, %d)", p.Rows, p.Cols))
	}
	if p.Axis != AxisFor(way) {
		return protocol.NewPartitionShapeMismatchError(p.Owner,
			fmt.Sprintf("axis %s for %s partitioning", AxisFor(way), way), fmt.Sprintf("axis %s", p.Axis))
	}
	if p.DType != "" && p.DType != DTypeFloat64 {
		return protocol.NewPartitionShapeMismatchError(p.Owner, "dtype "+DTypeFloat64, "dtype "+p.DType)
	}
	if len(p.Schema) > 0 && len(p.Schema) != p.Cols {
		return protocol.NewPartitionShapeMismatchError(p.Owner,
			fmt.Sprintf("%d schema columns", p.Cols), fmt.Sprintf("%d schema columns", len(p.Schema)))
	}
	return nil
}

// Combine 由协调方在收齐各方元数据后校验整体一致性
// VERTICAL 要求行数一致且至多一个标签持有方；HORIZONTAL 要求列数与列名一致且标签全有或全无
func Combine(way Way, partitions map[string]Partition) (*PartitionedDataset, error) {
	if !way.Valid() {
		return nil, errors.Errorf("unknown partition way %q", way)
	}
	if len(partitions) == 0 {
		return nil, errors.New("no partitions declared")
	}

	owners := make([]string, 0, len(partitions))
	for owner := range partitions {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	ordered := make([]Partition, 0, len(owners))
	for _, owner := range owners {
		p := partitions[owner]
		if p.Owner == "" {
			p.Owner = owner
		}
		if p.Owner != owner {
			return nil, errors.Errorf("partition declared under %s claims owner %s", owner, p.Owner)
		}
		if err := validatePartition(p, way); err != nil {
			return nil, err
		}
		ordered = append(ordered, p)
	}

	first := ordered[0]
	switch way {
	case Vertical:
		var labelOwners []string
		for _, p := range ordered {
			if p.Rows != first.Rows {
				return nil, protocol.NewPartitionShapeMismatchError(p.Owner,
					fmt.Sprintf("%d rows (as %s)", first.Rows, first.Owner), fmt.Sprintf("%d rows", p.Rows))
			}
			if p.HasLabels {
				labelOwners = append(labelOwners, p.Owner)
			}
		}
		if len(labelOwners) > 1 {
			return nil, &protocol.MultipleLabelOwnersError{Owners: labelOwners}
		}

	case Horizontal:
		for _, p := range ordered {
			if p.Cols != first.Cols {
				return nil, protocol.NewPartitionShapeMismatchError(p.Owner,
					fmt.Sprintf("%d columns (as %s)", first.Cols, first.Owner), fmt.Sprintf("%d columns", p.Cols))
			}
			if (len(first.Schema) > 0) != (len(p.Schema) > 0) {
				return nil, protocol.NewPartitionShapeMismatchError(p.Owner,
					fmt.Sprintf("schema declared=%t (as %s)", len(first.Schema) > 0, first.Owner),
					fmt.Sprintf("schema declared=%t", len(p.Schema) > 0))
			}
			if !equalStrings(first.Schema, p.Schema) {
				return nil, protocol.NewPartitionShapeMismatchError(p.Owner,
					fmt.Sprintf("schema %v", first.Schema), fmt.Sprintf("schema %v", p.Schema))
			}
			if p.HasLabels != first.HasLabels {
				return nil, protocol.NewPartitionShapeMismatchError(p.Owner,
					fmt.Sprintf("labels present=%t (as %s)", first.HasLabels, first.Owner),
					fmt.Sprintf("labels present=%t", p.HasLabels))
			}
		}
	}

	ds := &PartitionedDataset{Way: way, Partitions: ordered}
	if rows, cols := ds.TotalRows(), ds.TotalCols(); rows <= 0 || cols <= 0 {
		return nil, protocol.NewPartitionShapeMismatchError("",
			"positive totals", fmt.Sprintf("(%d, %d)", rows, cols))
	}
	return ds, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TotalRows 全体样本数
func (d *PartitionedDataset) TotalRows() int {
	if len(d.Partitions) == 0 {
		return 0
	}
	if d.Way == Vertical {
		return d.Partitions[0].Rows
	}
	total := 0
	for _, p := range d.Partitions {
		total += p.Rows
	}
	return total
}

// TotalCols 全体特征数
func (d *PartitionedDataset) TotalCols() int {
	if len(d.Partitions) == 0 {
		return 0
	}
	if d.Way == Horizontal {
		return d.Partitions[0].Cols
	}
	total := 0
	for _, p := range d.Partitions {
		total += p.Cols
	}
	return total
}

// Owners 按顺序返回各分区的持有方
func (d *PartitionedDataset) Owners() []string {
	owners := make([]string, len(d.Partitions))
	for i, p := range d.Partitions {
		owners[i] = p.Owner
	}
	return owners
}

// Partition 按持有方查找分区
func (d *PartitionedDataset) Partition(owner string) (Partition, bool) {
	for _, p := range d.Partitions {
		if p.Owner == owner {
			return p, true
		}
	}
	return Partition{}, false
}

// Offset 持有方分区在切分轴上的起始位置（VERTICAL 为列，HORIZONTAL 为行）
func (d *PartitionedDataset) Offset(owner string) int {
	offset := 0
	for _, p := range d.Partitions {
		if p.Owner == owner {
			return offset
		}
		if d.Way == Vertical {
			offset += p.Cols
		} else {
			offset += p.Rows
		}
	}
	return -1
}

// LabelOwner VERTICAL 下的标签持有方；无标签时返回 false
func (d *PartitionedDataset) LabelOwner() (string, bool) {
	for _, p := range d.Partitions {
		if p.HasLabels {
			return p.Owner, true
		}
	}
	return "", false
}

// Supervised 是否携带标签
func (d *PartitionedDataset) Supervised() bool {
	_, ok := d.LabelOwner()
	return ok
}
