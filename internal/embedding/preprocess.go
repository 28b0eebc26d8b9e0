package embedding

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageNet statistics used by the DINOv2 image processor.
var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess resizes img so its shortest edge is resizeShortest (bicubic), center-crops
// it to inputSize x inputSize and returns the normalized pixels in CHW order.
func Preprocess(img image.Image, resizeShortest, inputSize int) ([]float32, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}
	if inputSize <= 0 || resizeShortest < inputSize {
		return nil, fmt.Errorf("invalid preprocessing sizes: resize %d, crop %d", resizeShortest, inputSize)
	}

	b := img.Bounds()
	var resized *image.NRGBA
	if b.Dx() <= b.Dy() {
		resized = imaging.Resize(img, resizeShortest, 0, imaging.CatmullRom)
	} else {
		resized = imaging.Resize(img, 0, resizeShortest, imaging.CatmullRom)
	}
	cropped := imaging.CropCenter(resized, inputSize, inputSize)

	plane := inputSize * inputSize
	out := make([]float32, 3*plane)
	for y := 0; y < inputSize; y++ {
		row := cropped.Pix[y*cropped.Stride:]
		for x := 0; x < inputSize; x++ {
			px := row[x*4 : x*4+3]
			idx := y*inputSize + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				out[c*plane+idx] = (v - imageNetMean[c]) / imageNetStd[c]
			}
		}
	}
	return out, nil
}

// MeanPool averages a [tokens, dims] row-major hidden state over its tokens.
func MeanPool(hidden []float32, tokens, dims int) ([]float32, error) {
	if tokens <= 0 || dims <= 0 || len(hidden) < tokens*dims {
		return nil, fmt.Errorf("hidden state of length %d does not match shape [%d, %d]", len(hidden), tokens, dims)
	}
	out := make([]float32, dims)
	for t := 0; t < tokens; t++ {
		row := hidden[t*dims : (t+1)*dims]
		for d, v := range row {
			out[d] += v
		}
	}
	inv := 1 / float32(tokens)
	for d := range out {
		out[d] *= inv
	}
	return out, nil
}

// TokenCount is the sequence length a ViT produces for a square input: one token per
// patch plus the class token.
func TokenCount(inputSize, patchSize int) int {
	if patchSize <= 0 {
		return 0
	}
	side := inputSize / patchSize
	return side*side + 1
}
