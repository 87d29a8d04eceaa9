package pcmfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Info is what a finished recording's header says about it.
type Info struct {
	Path       string        `json:"path" yaml:"path"`
	SampleRate int           `json:"sample_rate" yaml:"sample_rate"`
	Channels   int           `json:"channels" yaml:"channels"`
	BitDepth   int           `json:"bit_depth" yaml:"bit_depth"`
	RIFFSize   uint32        `json:"riff_size" yaml:"riff_size"`
	DataSize   uint32        `json:"data_size" yaml:"data_size"`
	FileSize   int64         `json:"file_size" yaml:"file_size"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Consistent reports whether both header size fields match the file length.
func (i Info) Consistent() bool {
	return int64(i.DataSize)+HeaderSize == i.FileSize && int64(i.RIFFSize)+8 == i.FileSize
}

// Inspect reads the header of a WAV file written by Writer.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Info{}, err
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return Info{}, fmt.Errorf("reading header of %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Info{}, err
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Info{}, fmt.Errorf("%s is not a valid WAV file: %w", path, err)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return Info{}, fmt.Errorf("%s is not a valid WAV file: missing format chunk", path)
	}

	info := Info{
		Path:       path,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		RIFFSize:   binary.LittleEndian.Uint32(header[riffSizeOffset:]),
		DataSize:   binary.LittleEndian.Uint32(header[dataSizeOffset:]),
		FileSize:   stat.Size(),
	}
	bytesPerSecond := info.SampleRate * info.Channels * info.BitDepth / 8
	if bytesPerSecond > 0 {
		info.Duration = time.Duration(int64(info.DataSize) * int64(time.Second) / int64(bytesPerSecond))
	}
	return info, nil
}
