package inference

import (
	"os"
	"runtime"
)

// ModelKind identifies a detection model family and size.
type ModelKind string

const (
	ModelYOLOv8Small  ModelKind = "yolov8s"
	ModelYOLOv8Nano   ModelKind = "yolov8n"
	ModelMobileNetSSD ModelKind = "mobilenet"
)

// HardwareCaps describes the capabilities relevant to model selection.
type HardwareCaps struct {
	CUDAAvailable bool
	CPUCores      int
	GPUName       string
}

// DetectHardware probes the local machine. CUDA presence is taken from the
// environment since the GPU runtime lives with the external model process.
func DetectHardware() HardwareCaps {
	caps := HardwareCaps{CPUCores: runtime.NumCPU()}
	if os.Getenv("CUDA_VISIBLE_DEVICES") != "" && os.Getenv("CUDA_VISIBLE_DEVICES") != "-1" {
		caps.CUDAAvailable = true
		caps.GPUName = os.Getenv("CUDA_DEVICE_NAME")
	}
	return caps
}

// ChooseModel picks the model to load for the given hardware and operator
// preference. Pure decision function: a GPU gets the larger YOLO, a
// multi-core CPU the nano variant, weak CPUs fall back to MobileNet-SSD.
// Unknown preferences resolve as "auto".
func ChooseModel(caps HardwareCaps, preference string) ModelKind {
	switch preference {
	case "yolo", "yolov8":
		return ModelYOLOv8Nano
	case "mobilenet":
		return ModelMobileNetSSD
	}

	if caps.CUDAAvailable {
		return ModelYOLOv8Small
	}
	if caps.CPUCores >= 4 {
		return ModelYOLOv8Nano
	}
	return ModelMobileNetSSD
}
