package raster

import (
	"fmt"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

// BandInfo is the per-file metadata a MicaSense camera embeds in each band
// TIFF. Fields the file does not carry are left empty.
type BandInfo struct {
	Path       string
	Make       string
	Model      string
	BandName   string
	Wavelength float64
	Width      int
	Height     int
}

// ReadBandInfo extracts band metadata with exiftool. A missing exiftool
// binary is returned as an error; callers that only want best-effort
// metadata may ignore it.
func ReadBandInfo(paths ...string) ([]BandInfo, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	defer et.Close()

	out := []BandInfo{}
	for _, fi := range et.ExtractMetadata(paths...) {
		if fi.Err != nil {
			return out, fmt.Errorf("extract fail for %q: %w", fi.File, fi.Err)
		}
		out = append(out, readBandInfo(fi))
	}
	return out, nil
}

func readBandInfo(fi exiftool.FileMetadata) BandInfo {
	for k, v := range fi.Fields {
		klog.V(2).Infof("%q=%v", k, v)
	}

	bi := BandInfo{Path: fi.File}
	var err error

	bi.Make, err = fi.GetString("Make")
	if err != nil {
		klog.V(1).Infof("unable to get make for %s: %v", fi.File, err)
	}
	bi.Model, err = fi.GetString("Model")
	if err != nil {
		klog.V(1).Infof("unable to get model for %s: %v", fi.File, err)
	}
	bi.BandName, err = fi.GetString("BandName")
	if err != nil {
		klog.V(1).Infof("unable to get band name for %s: %v", fi.File, err)
	}
	bi.Wavelength, err = fi.GetFloat("CentralWavelength")
	if err != nil {
		klog.V(1).Infof("unable to get wavelength for %s: %v", fi.File, err)
	}

	w, err := fi.GetInt("ImageWidth")
	if err == nil {
		bi.Width = int(w)
	}
	h, err := fi.GetInt("ImageHeight")
	if err == nil {
		bi.Height = int(h)
	}
	return bi
}
