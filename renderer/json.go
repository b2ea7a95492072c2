package renderer

import (
	"bytes"
	"context"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/layout"
)

func init() {
	Register(JSON, jsonRenderer{})
}

// jsonRenderer dumps the frame tree.
type jsonRenderer struct{}

func (jsonRenderer) Render(_ context.Context, res *layout.Result, _ []int, _ Options) ([][]byte, diag.List, error) {
	var buf bytes.Buffer
	if err := layout.WriteDebugJSON(&buf, res); err != nil {
		return nil, nil, err
	}
	return [][]byte{buf.Bytes()}, nil, nil
}
