// Package faceembed abstracts face detection and embedding extraction behind a
// narrow capability interface so the concrete provider is substitutable without
// touching the attendance workflow.
package faceembed

import "context"

// Region is the bounding box of a detected face within the source image.
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Face is one detection result: where the face is and its embedding vector.
type Face struct {
	Region    Region    `json:"region"`
	Embedding []float64 `json:"embedding"`
}

// Provider turns an encoded image into zero or more detected faces. The order
// of the returned slice is provider-defined and carries no significance;
// callers that need "the" face take the first entry.
type Provider interface {
	DetectAndEmbed(ctx context.Context, image []byte) ([]Face, error)
}
