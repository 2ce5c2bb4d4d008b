package rembg

import (
	"image"

	"github.com/josuedeavila/rmbg"
)

// onnxEngine adapts the rmbg engine to Engine.
type onnxEngine struct {
	remove func(image.Image) (image.Image, error)
	close  func()
}

// LoadONNX opens a U²-Net ONNX model with onnxruntime.
func LoadONNX(modelPath string) (Engine, error) {
	engine, err := rmbg.New(modelPath)
	if err != nil {
		return nil, err
	}

	return &onnxEngine{
		remove: func(img image.Image) (image.Image, error) {
			return engine.RemoveBackground(img)
		},
		close: func() {
			engine.Close()
		},
	}, nil
}

func (e *onnxEngine) RemoveBackground(img image.Image) (image.Image, error) {
	return e.remove(img)
}

func (e *onnxEngine) Close() {
	e.close()
}
