package ingest

import "github.com/tidwall/gjson"

// PayloadKind classifies a feed line without fully decoding it.
type PayloadKind string

const (
	PayloadFrame     PayloadKind = "frame"
	PayloadHeartbeat PayloadKind = "heartbeat"
	PayloadUnknown   PayloadKind = "unknown"
)

// ClassifyPayload reports what kind of line the detector sent. Frames carry
// a detections array; heartbeats carry "type":"heartbeat" or an uptime.
func ClassifyPayload(line []byte) PayloadKind {
	if !gjson.ValidBytes(line) {
		return PayloadUnknown
	}
	res := gjson.GetManyBytes(line, "detections", "type", "uptime")
	switch {
	case res[0].IsArray():
		return PayloadFrame
	case res[1].String() == "heartbeat", res[2].Exists():
		return PayloadHeartbeat
	default:
		return PayloadUnknown
	}
}
