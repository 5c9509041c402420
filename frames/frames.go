// Package frames turns an ordered keyframe sequence into the fixed-size
// batches vision requests are built from.
package frames

import (
	"fmt"

	"github.com/BaSui01/narraflow/types"
)

// Batch 将帧序列切分为固定大小的批次。批次保持输入顺序，既不丢帧也
// 不重复；最后一批可以不满。batchSize ≤ 0 返回 INVALID_BATCH_SIZE。
// 空输入得到空切片。
func Batch(frames []types.Frame, batchSize int) ([]types.FrameBatch, error) {
	if batchSize <= 0 {
		return nil, types.NewError(types.ErrInvalidBatchSize,
			fmt.Sprintf("batch size must be positive, got %d", batchSize))
	}

	batches := make([]types.FrameBatch, 0, (len(frames)+batchSize-1)/batchSize)
	for i := 0; i < len(frames); i += batchSize {
		end := i + batchSize
		if end > len(frames) {
			end = len(frames)
		}
		batches = append(batches, types.FrameBatch{
			Index:  i / batchSize,
			Frames: frames[i:end],
		})
	}
	return batches, nil
}
