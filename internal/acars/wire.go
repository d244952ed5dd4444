// Package acars normalizes ACARS and VDL2 digital datalink messages from two
// UDP listeners into a common record shape, deduplicates them, and enriches
// the decoded text by label family, per spec.md §4.5. Grounded on two pack
// sources: the wire-shape tolerance and nested-wrapper unwrapping pattern
// from plane-watch-acars-parser/internal/acars/message.go (its
// NATSWrapper.ToMessage() unwrap-and-backfill shape is the model for
// unwrapping vdl2.avlc.acars), and the in-memory/SQL-backed tracker shape
// from plane-watch-acars-parser/internal/state/tracker.go for the recent-
// message ring and dedup bookkeeping.
package acars

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"skywatchcore/pkg/models"
)

// flexString unmarshals either a JSON string or number into a Go string,
// the permissive-wire-shape idiom spec.md §9 calls for (narrow once, at
// ingress, never thread an untyped map deeper).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

// rawFlat is the flat JSON shape emitted by acarsdec (source=acars) and by
// dumpvdl2 in flat mode (source=vdlm2).
type rawFlat struct {
	Timestamp float64    `json:"timestamp"`
	ICAOHex   flexString `json:"icao_hex"`
	ICAO      flexString `json:"icao"`
	Hex       flexString `json:"hex"`
	Tail      string     `json:"tail"`
	Flight    string     `json:"flight"`
	Label     string     `json:"label"`
	BlockID   string     `json:"block_id"`
	Ack       string     `json:"ack"`
	Mode      string     `json:"mode"`
	Text      string     `json:"text"`
	Freq      float64    `json:"freq"`
	Level     float64    `json:"level"`
	Station   string     `json:"station_id"`
}

// rawNested is the dumpvdl2 nested shape: vdl2.avlc.acars carries the
// message body, vdl2.freq/sig_level live one level up.
type rawNested struct {
	VDL2 struct {
		Freq     float64 `json:"freq"`
		SigLevel float64 `json:"sig_level"`
		Station  string  `json:"station"`
		AVLC     struct {
			Src struct {
				Addr string `json:"addr"`
			} `json:"src"`
			ACARS *struct {
				Reg     string `json:"reg"`
				Flight  string `json:"flight"`
				Label   string `json:"label"`
				MsgText string `json:"msg_text"`
				BlockID string `json:"block_id"`
				Ack     string `json:"ack"`
				Mode    string `json:"mode"`
			} `json:"acars"`
		} `json:"avlc"`
	} `json:"vdl2"`
}

// isNested reports whether the datagram is dumpvdl2's nested shape rather
// than a flat record.
func isNested(raw []byte) bool {
	var probe struct {
		VDL2 json.RawMessage `json:"vdl2"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe.VDL2) > 0
}

// parseDatagram decodes one UDP datagram into a normalized AcarsMessage. A
// malformed datagram returns an error; the caller increments the per-source
// error counter and drops it, per spec.md §6.
func parseDatagram(raw []byte, channel models.AcarsChannel, recvAt time.Time) (*models.AcarsMessage, error) {
	if channel == models.ChannelVDL2 && isNested(raw) {
		var nested rawNested
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, fmt.Errorf("acars: decode nested vdl2: %w", err)
		}
		return fromNested(&nested, recvAt), nil
	}

	var flat rawFlat
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("acars: decode flat %s: %w", channel, err)
	}
	return fromFlat(&flat, channel, recvAt), nil
}

func fromFlat(f *rawFlat, channel models.AcarsChannel, recvAt time.Time) *models.AcarsMessage {
	ts := recvAt
	if f.Timestamp > 0 {
		sec := int64(f.Timestamp)
		nsec := int64((f.Timestamp - float64(sec)) * 1e9)
		ts = time.Unix(sec, nsec).UTC()
	}

	icao := firstNonEmpty(string(f.ICAOHex), string(f.ICAO), string(f.Hex))
	icao = strings.ToUpper(strings.TrimSpace(icao))
	if channel == models.ChannelVDL2 {
		// VDL2 flat JSON sometimes carries the ICAO address as a bare
		// integer rather than hex text; zero-pad it per spec.md §4.5.
		if hex, ok := parseIntICAO(icao); ok {
			icao = hex
		}
	}

	m := &models.AcarsMessage{
		Channel:      channel,
		Timestamp:    ts,
		ICAO:         icao,
		Tail:         stripDots(f.Tail),
		Flight:       strings.TrimSpace(f.Flight),
		Label:        f.Label,
		BlockID:      f.BlockID,
		Ack:          f.Ack,
		Mode:         f.Mode,
		Text:         f.Text,
		FrequencyMHz: normalizeFrequency(f.Freq),
		StationID:    f.Station,
	}
	if f.Level != 0 {
		m.DecodedFields = map[string]interface{}{"signal_level": f.Level}
	}
	return m
}

func fromNested(n *rawNested, recvAt time.Time) *models.AcarsMessage {
	m := &models.AcarsMessage{
		Channel:      models.ChannelVDL2,
		Timestamp:    recvAt,
		ICAO:         strings.ToUpper(strings.TrimSpace(n.VDL2.AVLC.Src.Addr)),
		FrequencyMHz: normalizeFrequency(n.VDL2.Freq),
		StationID:    n.VDL2.Station,
	}
	if n.VDL2.SigLevel != 0 {
		m.DecodedFields = map[string]interface{}{"signal_level": n.VDL2.SigLevel}
	}
	if a := n.VDL2.AVLC.ACARS; a != nil {
		m.Tail = stripDots(a.Reg)
		m.Flight = strings.TrimSpace(a.Flight)
		m.Label = a.Label
		m.Text = a.MsgText
		m.BlockID = a.BlockID
		m.Ack = a.Ack
		m.Mode = a.Mode
	}
	return m
}

// normalizeFrequency converts a Hz-scale value (>1000) to MHz, and rejects
// anything outside the VHF aviation band (100-200 MHz) per spec.md §4.5.
func normalizeFrequency(v float64) float64 {
	if v > 1000 {
		v = v / 1_000_000
	}
	if v < 100 || v > 200 {
		return 0
	}
	return v
}

// stripDots removes leading/embedded dots from a tail/registration field,
// e.g. dumpvdl2's ".N12345" -> "N12345".
func stripDots(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ".", "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// hexFromInt zero-pads an integer ICAO address (VDL2 flat shape sometimes
// carries the address as an integer) to 6 uppercase hex characters.
func hexFromInt(v int64) string {
	return strings.ToUpper(fmt.Sprintf("%06x", v))
}

// parseIntICAO attempts to read an integer-encoded ICAO address.
func parseIntICAO(s string) (string, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return "", false
	}
	return hexFromInt(n), true
}
