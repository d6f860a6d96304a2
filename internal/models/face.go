package models

import "math"

// FaceEncoding is a fixed-length embedding describing one detected face.
// Values are never modified after construction; use NewFaceEncoding to build one.
type FaceEncoding []float32

// NewFaceEncoding copies v so the caller's slice can't alias the encoding.
func NewFaceEncoding(v []float32) FaceEncoding {
	enc := make(FaceEncoding, len(v))
	copy(enc, v)
	return enc
}

// Distance returns the Euclidean distance between two encodings.
// Encodings of different length are infinitely far apart.
func (e FaceEncoding) Distance(other FaceEncoding) float64 {
	if len(e) != len(other) || len(e) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range e {
		d := float64(e[i]) - float64(other[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Clone returns an independent copy.
func (e FaceEncoding) Clone() FaceEncoding {
	return NewFaceEncoding(e)
}

// UserFaceRecord maps an image label to the encodings extracted from that image.
type UserFaceRecord map[string][]FaceEncoding

// Labels returns the number of labelled images in the record.
func (r UserFaceRecord) Labels() int {
	return len(r)
}

// Clone deep-copies the record.
func (r UserFaceRecord) Clone() UserFaceRecord {
	out := make(UserFaceRecord, len(r))
	for label, encs := range r {
		cp := make([]FaceEncoding, len(encs))
		for i, e := range encs {
			cp[i] = e.Clone()
		}
		out[label] = cp
	}
	return out
}

// UserHashRecord maps an image label to the content hash of that image.
// Used only when face detection is unavailable.
type UserHashRecord map[string]string
