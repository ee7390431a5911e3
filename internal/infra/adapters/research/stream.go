package research

import (
	"bytes"
	"encoding/json"
	"fmt"

	"research-client/internal/domain"
	"research-client/internal/domain/model"
	"research-client/internal/infra/metrics"
)

var dataPrefix = []byte("data:")

// LineDecoder turns chunked stream bytes into StreamEvents.
//
// Chunk boundaries are independent of line boundaries: the trailing fragment of
// every chunk is carried over and completed by the next one. Only lines starting
// with "data:" are candidates; a candidate that is not a JSON object is dropped.
// LineDecoder implements io.Writer so a response body can be io.Copy'd into it.
type LineDecoder struct {
	buf       []byte
	onEvent   func(model.StreamEvent)
	delivered int
	dropped   int
}

func NewLineDecoder(onEvent func(model.StreamEvent)) *LineDecoder {
	return &LineDecoder{onEvent: onEvent}
}

func (d *LineDecoder) Write(chunk []byte) (int, error) {
	d.buf = append(d.buf, chunk...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		d.line(d.buf[:i])
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(chunk), nil
}

// Flush decodes whatever is left after the body ended without a final newline.
func (d *LineDecoder) Flush() {
	if len(d.buf) > 0 {
		d.line(d.buf)
	}
	d.buf = nil
}

// Delivered and Dropped count decoded and discarded candidate lines.
func (d *LineDecoder) Delivered() int { return d.delivered }
func (d *LineDecoder) Dropped() int   { return d.dropped }

func (d *LineDecoder) line(raw []byte) {
	raw = bytes.TrimRight(raw, "\r")
	if !bytes.HasPrefix(raw, dataPrefix) {
		return
	}
	ev, err := ParseFrame(bytes.TrimSpace(raw[len(dataPrefix):]))
	if err != nil {
		d.dropped++
		metrics.IncStreamFrame(false)
		return
	}
	d.delivered++
	metrics.IncStreamFrame(true)
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}

type wireFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Content json.RawMessage `json:"content"`
	Message json.RawMessage `json:"message"`
	Text    json.RawMessage `json:"text"`
	Data    json.RawMessage `json:"data"`
}

// ParseFrame decodes the JSON payload of one data: line.
func ParseFrame(payload []byte) (model.StreamEvent, error) {
	if len(payload) == 0 || payload[0] != '{' {
		return model.StreamEvent{}, fmt.Errorf("%w: not a JSON object", domain.ErrStreamDecode)
	}
	var f wireFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return model.StreamEvent{}, fmt.Errorf("%w: %v", domain.ErrStreamDecode, err)
	}
	kind := f.Type
	if kind == "" {
		kind = f.Event
	}
	content := ""
	for _, raw := range []json.RawMessage{f.Content, f.Message, f.Text, f.Data} {
		if content = textOf(raw); content != "" {
			break
		}
	}
	return model.StreamEvent{
		Kind:    model.StreamEventKind(kind),
		Content: content,
		Raw:     append(json.RawMessage(nil), payload...),
	}, nil
}

// textOf returns a JSON string's value, or the raw JSON for any other non-null value.
func textOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
