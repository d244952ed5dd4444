package acars

import (
	"testing"
	"time"

	"skywatchcore/pkg/models"
)

func TestFlatAcarsDecode(t *testing.T) {
	raw := []byte(`{
		"timestamp": 1700000000.5,
		"icao_hex": "A1B2C3",
		"tail": ".N12345",
		"flight": "UAL123",
		"label": "80",
		"text": "OOOI EVENT",
		"freq": 131.550,
		"station_id": "KSEA"
	}`)
	msg, err := parseDatagram(raw, models.ChannelACARS, time.Now())
	if err != nil {
		t.Fatalf("parse flat acars: %v", err)
	}
	if msg.ICAO != "A1B2C3" {
		t.Errorf("expected ICAO A1B2C3, got %s", msg.ICAO)
	}
	if msg.Tail != "N12345" {
		t.Errorf("expected stripped tail N12345, got %s", msg.Tail)
	}
	if msg.FrequencyMHz != 131.550 {
		t.Errorf("expected freq 131.55, got %v", msg.FrequencyMHz)
	}
}

func TestFlatVdl2IntegerICAO(t *testing.T) {
	raw := []byte(`{
		"timestamp": 1700000000,
		"icao": 10597059,
		"tail": "N54321",
		"flight": "DAL456",
		"label": "H1",
		"text": "POS N47.30 W122.20",
		"freq": 136975000,
		"station_id": "KPAE"
	}`)
	msg, err := parseDatagram(raw, models.ChannelVDL2, time.Now())
	if err != nil {
		t.Fatalf("parse flat vdl2: %v", err)
	}
	if msg.ICAO != "A1B2C3" {
		t.Errorf("expected zero-padded hex ICAO A1B2C3, got %s", msg.ICAO)
	}
	if msg.FrequencyMHz != 136.975 {
		t.Errorf("expected freq converted from Hz to MHz, got %v", msg.FrequencyMHz)
	}
}

func TestNestedVdl2Unwrap(t *testing.T) {
	raw := []byte(`{
		"vdl2": {
			"freq": 136975000,
			"sig_level": -12.5,
			"station": "KPAE",
			"avlc": {
				"src": {"addr": "a1b2c3"},
				"acars": {
					"reg": ".N54321",
					"flight": "DAL456",
					"label": "H1",
					"msg_text": "POS N47.30 W122.20",
					"block_id": "1",
					"mode": "2"
				}
			}
		}
	}`)
	msg, err := parseDatagram(raw, models.ChannelVDL2, time.Now())
	if err != nil {
		t.Fatalf("parse nested vdl2: %v", err)
	}
	if msg.ICAO != "A1B2C3" {
		t.Errorf("expected uppercased ICAO A1B2C3, got %s", msg.ICAO)
	}
	if msg.Tail != "N54321" {
		t.Errorf("expected stripped tail N54321, got %s", msg.Tail)
	}
	if msg.Flight != "DAL456" {
		t.Errorf("expected flight DAL456, got %s", msg.Flight)
	}
}

// TestFlatAndNestedCanonicalEquivalence exercises spec.md §8's round-trip
// property: the same logical VDL2 message, whether emitted flat or nested,
// normalizes to the same ICAO/flight/label/text regardless of source shape.
func TestFlatAndNestedCanonicalEquivalence(t *testing.T) {
	flat := []byte(`{
		"timestamp": 1700000000,
		"icao_hex": "ABCDEF",
		"tail": "N1",
		"flight": "AAL1",
		"label": "12",
		"text": "ON REPORT",
		"freq": 131550000,
		"station_id": "KSEA"
	}`)
	nested := []byte(`{
		"vdl2": {
			"freq": 131550000,
			"station": "KSEA",
			"avlc": {
				"src": {"addr": "ABCDEF"},
				"acars": {
					"reg": "N1",
					"flight": "AAL1",
					"label": "12",
					"msg_text": "ON REPORT"
				}
			}
		}
	}`)
	recvAt := time.Now()
	a, err := parseDatagram(flat, models.ChannelVDL2, recvAt)
	if err != nil {
		t.Fatalf("parse flat: %v", err)
	}
	b, err := parseDatagram(nested, models.ChannelVDL2, recvAt)
	if err != nil {
		t.Fatalf("parse nested: %v", err)
	}
	if a.ICAO != b.ICAO || a.Flight != b.Flight || a.Label != b.Label || a.Text != b.Text {
		t.Fatalf("expected canonical equivalence, got %+v vs %+v", a, b)
	}
}

func TestNormalizeFrequencyRejectsOutOfBand(t *testing.T) {
	if got := normalizeFrequency(50); got != 0 {
		t.Errorf("expected out-of-band freq rejected, got %v", got)
	}
	if got := normalizeFrequency(131.550); got != 131.550 {
		t.Errorf("expected MHz-scale value passed through, got %v", got)
	}
}
