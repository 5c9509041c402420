// 测试数据工厂：关键帧、抽帧目录与运行样例。
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/narraflow/types"
)

// jpegHeader 是最小的 JPEG 魔数前缀，足够让 MIME 识别通过。
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0}

// Frames 构造 n 个按 3 秒间隔排列的 JPEG 关键帧
func Frames(n int) []types.Frame {
	frames := make([]types.Frame, n)
	for i := range frames {
		frames[i] = types.Frame{
			Index:     i,
			Timestamp: time.Duration(i) * 3 * time.Second,
			Data:      FrameData(i),
			MIME:      "image/jpeg",
		}
	}
	return frames
}

// FrameData 构造第 i 帧的图像载荷，各帧内容互不相同
func FrameData(i int) []byte {
	return append(append([]byte{}, jpegHeader...), byte(i), byte(i>>8))
}

// WriteFrameDir 在临时目录写入 n 个零填充命名的 JPEG 帧文件，
// 返回目录路径。目录随测试结束自动清理。
func WriteFrameDir(t *testing.T, n int) string {
	t.Helper()

	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i+1))
		if err := os.WriteFile(name, FrameData(i), 0o644); err != nil {
			t.Fatalf("write frame %s: %v", name, err)
		}
	}
	return dir
}

// SampleRun 构造一条处于给定状态的运行
func SampleRun(id string, state types.RunState) *types.Run {
	now := time.Now().UTC().Truncate(time.Second)
	run := &types.Run{
		ID:             id,
		VideoID:        "video-" + id,
		VisionProvider: "gemini",
		TextProvider:   "deepseek",
		State:          state,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if state == types.RunStateDone {
		run.Progress = types.ProgressDone
		run.TotalBatches = 3
		run.DoneBatches = 3
		run.Script = "这是一段测试解说。"
	}
	if state == types.RunStateFailed {
		run.FailureReason = "AGGREGATION: 全部批次描述失败"
	}
	return run
}

// SampleResult 构造一条成功运行的解说结果
func SampleResult() *types.NarrationResult {
	return &types.NarrationResult{
		Script:       "这是一段测试解说。",
		Providers:    []string{"gemini", "deepseek"},
		PromptTokens: 321,
		OutputTokens: 87,
	}
}
