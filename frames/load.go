package frames

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/narraflow/types"
)

// LoadDir 读取抽帧目录为有序的帧序列。文件按名称排序（抽帧器以零填充
// 序号命名，字典序即时间序），时间戳由抽帧间隔推导，MIME 从文件头部
// 魔数识别。目录中的非图像文件被跳过。
func LoadDir(dir string, interval time.Duration) ([]types.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidConfig,
			fmt.Sprintf("read frame directory %s", dir), err)
	}

	frames := make([]types.Frame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, types.WrapError(types.ErrInvalidConfig,
				fmt.Sprintf("read frame %s", entry.Name()), err)
		}
		frames = append(frames, types.Frame{
			Index:     len(frames),
			Timestamp: time.Duration(len(frames)) * interval,
			Data:      data,
			MIME:      DetectMIME(data),
		})
	}

	if len(frames) == 0 {
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("no keyframes found in %s", dir))
	}
	return frames, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// DetectMIME 通过魔数识别图像格式，无法识别时按 JPEG 处理——抽帧器
// 默认输出 JPEG。
func DetectMIME(data []byte) string {
	if len(data) >= 4 {
		switch {
		case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
			return "image/png"
		case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38:
			return "image/gif"
		case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
			return "image/webp"
		}
	}
	return "image/jpeg"
}
