package protocol

import (
	"strings"
	"testing"
)

func TestDecodeReadings(t *testing.T) {
	readings, err := DecodeReadings([]byte(`{
		"Baku - Nasimi": {"aqi": 88, "pm2_5": 30.2, "o3": 12},
		"Sumqayit": {"aqi": "bad"}
	}`))
	if err != nil {
		t.Fatalf("DecodeReadings failed: %v", err)
	}

	nasimi := readings["Baku - Nasimi"]
	if string(nasimi.AQI) != "88" {
		t.Errorf("raw AQI = %s", nasimi.AQI)
	}
	meta := nasimi.Metadata()
	if len(meta) != 2 || meta["pm2_5"] != 30.2 || meta["o3"] != 12 {
		t.Errorf("Metadata = %v", meta)
	}

	// The raw value is kept for per-location validation.
	if string(readings["Sumqayit"].AQI) != `"bad"` {
		t.Errorf("raw AQI = %s", readings["Sumqayit"].AQI)
	}

	if _, err := DecodeReadings([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for array payload")
	}
}

func TestDecodeCompareResponse(t *testing.T) {
	resp, err := DecodeCompareResponse([]byte(`{"ai_analysis":"Go to Sabail."}`))
	if err != nil || resp.AIAnalysis != "Go to Sabail." {
		t.Errorf("DecodeCompareResponse = %+v, %v", resp, err)
	}

	for _, body := range []string{`{}`, `{"ai_analysis":""}`, `not json`} {
		if _, err := DecodeCompareResponse([]byte(body)); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
}

func TestAlertMessage_EncodeDecode(t *testing.T) {
	msg := &AlertMessage{
		ID:       "evt-1",
		Location: "Ganja",
		AQI:      205,
		Band:     "very_unhealthy",
		Language: "az",
		Push:     PushPayload{Title: "⚠️ DİQQƏT! Ganja", Body: "...", Tag: "aqi-Ganja", RequireInteraction: true},
		Speech:   &SpeechPayload{UtteranceText: "...", LanguageTag: "tr-TR"},
	}

	data, err := EncodeAlertMessage(msg)
	if err != nil {
		t.Fatalf("EncodeAlertMessage failed: %v", err)
	}
	if !strings.Contains(string(data), `"utterance_text"`) {
		t.Errorf("speech field name missing: %s", data)
	}

	decoded, err := DecodeAlertMessage(data)
	if err != nil {
		t.Fatalf("DecodeAlertMessage failed: %v", err)
	}
	if decoded.Push.Tag != "aqi-Ganja" || decoded.Speech.LanguageTag != "tr-TR" {
		t.Errorf("unexpected message %+v", decoded)
	}

	if _, err := DecodeAlertMessage([]byte(`{"id":"x","push":{"title":"t"}}`)); err == nil {
		t.Error("expected error for missing location")
	}
}
