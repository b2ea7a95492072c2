package layout

import (
	"encoding/json"
	"io"
)

// WriteDebugJSON 将布局结果（帧树与锚点）输出为缩进 JSON，便于调试或可视化。
func WriteDebugJSON(w io.Writer, res *Result) error {
	if res == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
