package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW resizes img and lays it out as planar RGB:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := imaging.Resize(img, targetW, targetH, imaging.Linear)
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for i := 0; i < plane; i++ {
		px := resized.Pix[i*4 : i*4+3]
		for c := 0; c < 3; c++ {
			data[c*plane+i] = (float32(px[c]) - mean[c]) / std[c]
		}
	}
	return data
}

// cropFace cuts the face region out of img with a 10% margin on each side.
// It returns nil when the box does not overlap the image.
func cropFace(img image.Image, det Detection) image.Image {
	b := img.Bounds()
	r := det.Rect().Add(b.Min)

	padW := r.Dx() / 10
	padH := r.Dy() / 10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)
	if r.Empty() {
		return nil
	}
	return imaging.Crop(img, r)
}
