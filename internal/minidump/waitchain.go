package minidump

import (
	"encoding/json"
	"fmt"

	"github.com/skyrimdiag/dumptool/internal/model"
)

type waitChainWire struct {
	Threads []struct {
		TID     uint32   `json:"tid"`
		IsCycle bool     `json:"isCycle"`
		Nodes   []string `json:"nodes"`
		Capture *struct {
			Kind                  string  `json:"kind"`
			SecondsSinceHeartbeat float64 `json:"secondsSinceHeartbeat"`
			ThresholdSec          float64 `json:"thresholdSec"`
			IsLoading             bool    `json:"isLoading"`
		} `json:"capture"`
	} `json:"threads"`
}

// LoadWaitChain decodes the optional embedded WCT JSON user stream. An
// absent stream yields (nil, nil); a parse failure yields a nil document
// and an error wrapping ErrMalformedStream, which the analysis pass logs
// and then continues without the document.
func LoadWaitChain(v *View) (*model.WaitChainDoc, error) {
	data, ok := v.FindStream(StreamWaitChainDoc)
	if !ok {
		return nil, nil
	}
	var wire waitChainWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: wct json: %v", ErrMalformedStream, err)
	}

	doc := &model.WaitChainDoc{}
	for _, t := range wire.Threads {
		wt := model.WaitChainThread{TID: t.TID, IsCycle: t.IsCycle, Nodes: t.Nodes}
		doc.Threads = append(doc.Threads, wt)
		if t.Capture != nil && doc.Capture == nil {
			doc.Capture = &model.WaitChainCapture{
				Kind:                  t.Capture.Kind,
				SecondsSinceHeartbeat: t.Capture.SecondsSinceHeartbeat,
				ThresholdSec:          t.Capture.ThresholdSec,
				IsLoading:             t.Capture.IsLoading,
			}
		}
	}
	return doc, nil
}
