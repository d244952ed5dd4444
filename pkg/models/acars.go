package models

import "time"

// AcarsChannel distinguishes the two UDP listeners acars_router/dumpvdl2 feed.
type AcarsChannel string

const (
	ChannelACARS AcarsChannel = "acars"
	ChannelVDL2  AcarsChannel = "vdl2"
)

// AcarsMessage is the normalized record produced regardless of whether the
// upstream sender emitted the flat acarsdec JSON or the nested dumpvdl2 JSON.
type AcarsMessage struct {
	ID            int64                  `json:"id,omitempty"`
	Channel       AcarsChannel           `json:"channel"`
	Hash          string                 `json:"hash"`
	Timestamp     time.Time              `json:"timestamp"`
	FrequencyMHz  float64                `json:"frequency_mhz"`
	StationID     string                 `json:"station_id,omitempty"`
	Tail          string                 `json:"tail,omitempty"`
	Flight        string                 `json:"flight,omitempty"`
	ICAO          string                 `json:"icao,omitempty"`
	Label         string                 `json:"label,omitempty"`
	LabelName     string                 `json:"label_name,omitempty"`
	BlockID       string                 `json:"block_id,omitempty"`
	Mode          string                 `json:"mode,omitempty"`
	Ack           string                 `json:"ack,omitempty"`
	Text          string                 `json:"text,omitempty"`
	Airline       string                 `json:"airline,omitempty"`
	DecodedFields map[string]interface{} `json:"decoded_fields,omitempty"`
}

// DecodedField reads a key out of DecodedFields, returning ok=false when the
// message carries no such decoded value.
func (m *AcarsMessage) DecodedField(key string) (interface{}, bool) {
	if m.DecodedFields == nil {
		return nil, false
	}
	v, ok := m.DecodedFields[key]
	return v, ok
}
