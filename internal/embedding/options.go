package embedding

// ONNXConfig describes the exported image model and its preprocessing.
type ONNXConfig struct {
	ModelPath      string
	Dimensions     int
	InputSize      int
	ResizeShortest int
	PatchSize      int
	InputName      string
	OutputName     string
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.Dimensions <= 0 {
		c.Dimensions = 1024
	}
	if c.InputSize <= 0 {
		c.InputSize = 224
	}
	if c.ResizeShortest < c.InputSize {
		c.ResizeShortest = c.InputSize * 8 / 7
	}
	if c.PatchSize <= 0 {
		c.PatchSize = 14
	}
	if c.InputName == "" {
		c.InputName = "pixel_values"
	}
	if c.OutputName == "" {
		c.OutputName = "last_hidden_state"
	}
	return c
}
