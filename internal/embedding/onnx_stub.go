//go:build !onnx

package embedding

import "github.com/engram-ai/engram/internal/domain"

// ONNXConfig mirrors the onnx-tagged build so configuration code compiles
// either way.
type ONNXConfig struct {
	Model             string
	ModelPath         string
	TokenizerPath     string
	Dims              int
	SharedLibraryPath string
}

// NewONNX reports that the neural backend was not compiled in. Build with
// -tags onnx to enable it.
func NewONNX(cfg ONNXConfig) (Embedder, error) {
	return nil, domain.Validationf("onnx embedding backend not available in this build")
}
