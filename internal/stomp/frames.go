package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-stomp/stomp/v3/frame"
)

const authorizationHeader = "Authorization"

// heartbeatFrame is the single EOL a STOMP peer sends to keep the
// connection alive.
var heartbeatFrame = []byte("\n")

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames reads every frame in a single websocket message. Heart-beats
// are skipped.
func decodeFrames(raw []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(raw))

	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("decode frame: %w", err)
		}
		if f == nil {
			continue
		}
		frames = append(frames, f)
	}
}

func connectFrame(host, token string, heartbeat string) *frame.Frame {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1",
		frame.Host, host,
		frame.HeartBeat, heartbeat,
	)
	if token != "" {
		f.Header.Add(authorizationHeader, "Bearer "+token)
	}
	return f
}
