package minidump

import (
	"encoding/binary"

	"github.com/skyrimdiag/dumptool/internal/model"
)

const maxExceptionParameters = 15

// LoadException decodes the ExceptionStream, if present.
func LoadException(v *View) (*model.ExceptionInfo, error) {
	data, ok := v.FindStream(StreamException)
	if !ok {
		return nil, nil
	}
	const minSize = 168
	if len(data) < minSize {
		return nil, ErrMalformedStream
	}
	threadID := binary.LittleEndian.Uint32(data[0:4])
	code := binary.LittleEndian.Uint32(data[8:12])
	addr := binary.LittleEndian.Uint64(data[24:32])
	numParams := binary.LittleEndian.Uint32(data[32:36])
	if numParams > maxExceptionParameters {
		numParams = maxExceptionParameters
	}
	info := make([]uint64, numParams)
	for i := uint32(0); i < numParams; i++ {
		off := 40 + uint64(i)*8
		info[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}
	return &model.ExceptionInfo{
		Code:     code,
		ThreadID: threadID,
		Address:  addr,
		Info:     info,
	}, nil
}
