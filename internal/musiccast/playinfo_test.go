package musiccast

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

func tunerFeatures(presetType string, bands []string) *Features {
	funcList := make([]any, len(bands))
	for i, b := range bands {
		funcList[i] = b
	}
	return NewFeatures(map[string]any{
		"tuner": map[string]any{
			"preset":    map[string]any{"type": presetType, "num": float64(40)},
			"func_list": funcList,
		},
		"netusb": map[string]any{
			"preset": map[string]any{"num": float64(40)},
		},
	})
}

func TestTunerInfo_CommonPresets(t *testing.T) {
	requests := make(map[string]int)
	conn := newTestConn(t, func(w http.ResponseWriter, r *http.Request) {
		requests[r.URL.String()]++
		io.WriteString(w, `{"response_code":0,"preset_info":[{"band":"common","number":1}]}`)
	}, testTiming())

	ti, err := newTunerInfo(context.Background(), conn, tunerFeatures("common", []string{"fm"}))
	if err != nil {
		t.Fatalf("newTunerInfo() error = %v", err)
	}
	if requests["/YamahaExtendedControl/v1/tuner/getPresetInfo?band=common"] != 1 {
		t.Errorf("requests = %v, want one common getPresetInfo", requests)
	}
	if len(ti.presetInfo) != 1 {
		t.Errorf("presetInfo has %d entries, want 1", len(ti.presetInfo))
	}

	band, err := ti.PresetBand("tuner", 5)
	if err != nil || band != "common" {
		t.Errorf("PresetBand() = %q, %v; want common, nil", band, err)
	}
}

func TestTunerInfo_SeparatePresets(t *testing.T) {
	requests := make(map[string]int)
	conn := newTestConn(t, func(w http.ResponseWriter, r *http.Request) {
		requests[r.URL.String()]++
		io.WriteString(w, `{"response_code":0,"preset_info":[{"number":1}]}`)
	}, testTiming())

	// rds is not a preset band and must be skipped.
	ti, err := newTunerInfo(context.Background(), conn, tunerFeatures("separate", []string{"am", "fm", "rds", "dab"}))
	if err != nil {
		t.Fatalf("newTunerInfo() error = %v", err)
	}
	for _, band := range []string{"am", "fm", "dab"} {
		key := "/YamahaExtendedControl/v1/tuner/getPresetInfo?band=" + band
		if requests[key] != 1 {
			t.Errorf("requests = %v, want one per band, missing %s", requests, band)
		}
	}
	if len(ti.presetInfo) != 3 {
		t.Errorf("presetInfo has %d entries, want 3 (one per band)", len(ti.presetInfo))
	}

	band, err := ti.PresetBand("tuner", 1)
	if err != nil || band != "dab" {
		t.Errorf("PresetBand() = %q, %v; want dab, nil", band, err)
	}
}

func TestTunerInfo_PresetBounds(t *testing.T) {
	ti := &TunerInfo{maxPresets: 40}
	for _, num := range []int{0, -1, 41} {
		if _, err := ti.PresetBand("tuner", num); !errors.Is(err, ErrLogic) {
			t.Errorf("PresetBand(%d) = %v, want ErrLogic", num, err)
		}
	}
	for _, num := range []int{1, 40} {
		if _, err := ti.PresetBand("tuner", num); err != nil {
			t.Errorf("PresetBand(%d) error = %v", num, err)
		}
	}
}

func TestNetUSBInfo_PresetBand(t *testing.T) {
	n := &NetUSBInfo{maxPresets: 40}

	band, err := n.PresetBand("net_radio", 12)
	if err != nil || band != "" {
		t.Errorf("PresetBand(net_radio) = %q, %v; want empty band, nil", band, err)
	}

	if _, err := n.PresetBand("spotify", 1); !errors.Is(err, ErrLogic) {
		t.Errorf("PresetBand(spotify) = %v, want ErrLogic", err)
	}
	if _, err := n.PresetBand("net_radio", 41); !errors.Is(err, ErrLogic) {
		t.Errorf("PresetBand(41) = %v, want ErrLogic", err)
	}
}

func TestPlayInfoBase_Defaults(t *testing.T) {
	base := &playInfoBase{typ: PlayTypeCD}

	if err := base.RefreshPresetInfo(context.Background()); !errors.Is(err, ErrLogic) {
		t.Errorf("RefreshPresetInfo() = %v, want ErrLogic", err)
	}
	if err := base.UpdatePlayTime(1); !errors.Is(err, ErrLogic) {
		t.Errorf("UpdatePlayTime() = %v, want ErrLogic", err)
	}
	if err := base.UpdatePlayMessage("x"); !errors.Is(err, ErrLogic) {
		t.Errorf("UpdatePlayMessage() = %v, want ErrLogic", err)
	}
	if _, err := base.PresetBand("cd", 1); !errors.Is(err, ErrLogic) {
		t.Errorf("PresetBand() = %v, want ErrLogic", err)
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		in      any
		want    int
		wantErr bool
	}{
		{float64(42), 42, false},
		{7, 7, false},
		{"315", 315, false},
		{"abc", 0, true},
		{true, 0, true},
		{nil, 0, true},
	}
	for _, tt := range tests {
		got, err := asInt(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrComms) {
				t.Errorf("asInt(%v) error = %v, want ErrComms", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("asInt(%v) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}
