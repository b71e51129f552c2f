package zwaveme

import (
	"sync"
	"testing"
)

type metricPoint struct {
	deviceID   string
	node       string
	deviceType string
	metric     string
	value      float64
}

// mockMetricWriter records metric writes.
type mockMetricWriter struct {
	mu     sync.Mutex
	points []metricPoint
}

func (w *mockMetricWriter) WriteDeviceMetric(deviceID, node, deviceType, metric string, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, metricPoint{deviceID, node, deviceType, metric, value})
}

func (w *mockMetricWriter) Points() []metricPoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]metricPoint(nil), w.points...)
}

func TestRecorder_Levels(t *testing.T) {
	tests := []struct {
		name      string
		device    Device
		wantLevel *float64
		wantFail  float64
	}{
		{
			name:      "binary on",
			device:    Device{ID: "a", DeviceIdentifier: "1_2", DeviceType: TypeSwitchBinary, Level: LevelOn},
			wantLevel: ptr(1.0),
		},
		{
			name:      "motor open",
			device:    Device{ID: "a", DeviceIdentifier: "1_2", DeviceType: TypeMotor, Level: LevelOpen},
			wantLevel: ptr(0.0),
		},
		{
			name:      "sensor reading",
			device:    Device{ID: "a", DeviceIdentifier: "1_2", DeviceType: TypeSensorMultilevel, Level: "21.5"},
			wantLevel: ptr(21.5),
		},
		{
			name:      "dimmer",
			device:    Device{ID: "a", DeviceIdentifier: "1_2", DeviceType: TypeSwitchMultilevel, Level: 42.0},
			wantLevel: ptr(42.0),
		},
		{
			name:     "button has no reading",
			device:   Device{ID: "a", DeviceIdentifier: "1_2", DeviceType: TypeToggleButton, Level: "pressed"},
			wantFail: 0,
		},
		{
			name:     "failed device",
			device:   Device{ID: "a", DeviceIdentifier: "1_2", DeviceType: TypeSwitchBinary, Level: nil, IsFailed: true},
			wantFail: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &mockMetricWriter{}
			NewRecorder(w).OnDeviceUpdate(tt.device)

			points := w.Points()
			want := 1
			if tt.wantLevel != nil {
				want = 2
			}
			if len(points) != want {
				t.Fatalf("points = %+v, want %d", points, want)
			}

			if tt.wantLevel != nil {
				p := points[0]
				if p.metric != MetricLevel || p.value != *tt.wantLevel {
					t.Errorf("level point = %+v, want %v", p, *tt.wantLevel)
				}
			}
			last := points[len(points)-1]
			if last.metric != MetricIsFailed || last.value != tt.wantFail {
				t.Errorf("is_failed point = %+v, want %v", last, tt.wantFail)
			}
			for _, p := range points {
				if p.deviceID != "a" || p.node != "1_2" || p.deviceType != tt.device.DeviceType {
					t.Errorf("point tags = %+v", p)
				}
			}
		})
	}
}

func TestRecorder_SnapshotAndRemovals(t *testing.T) {
	w := &mockMetricWriter{}
	r := NewRecorder(w)

	r.OnDeviceCreate([]Device{
		{ID: "a", DeviceIdentifier: "a", Level: LevelOff},
		{ID: "b", DeviceIdentifier: "b", Level: LevelOn},
	})
	r.OnNewDevice(Device{ID: "c", DeviceIdentifier: "c", Level: 5.0})
	r.OnDeviceRemove(nil)
	r.OnDeviceDestroy(nil)

	if got := len(w.Points()); got != 6 {
		t.Errorf("points = %d, want 6", got)
	}
}

func TestRecorder_ChannelsOfOneNodeKeepSeparateSeries(t *testing.T) {
	w := &mockMetricWriter{}
	NewRecorder(w).OnDeviceCreate([]Device{
		{ID: "ZWayVDev_zway_5-0-49-1", DeviceIdentifier: "1_5", DeviceType: TypeSensorMultilevel, Level: "21.5"},
		{ID: "ZWayVDev_zway_5-0-49-5", DeviceIdentifier: "1_5", DeviceType: TypeSensorMultilevel, Level: "48"},
	})

	levels := map[string]float64{}
	for _, p := range w.Points() {
		if p.node != "1_5" {
			t.Errorf("node tag = %q, want 1_5", p.node)
		}
		if p.metric == MetricLevel {
			levels[p.deviceID] = p.value
		}
	}
	if len(levels) != 2 || levels["ZWayVDev_zway_5-0-49-1"] != 21.5 || levels["ZWayVDev_zway_5-0-49-5"] != 48 {
		t.Errorf("level series = %v, want one per channel", levels)
	}
}

func TestRecorder_NilWriter(t *testing.T) {
	r := NewRecorder(nil)
	r.OnDeviceUpdate(Device{ID: "a", Level: LevelOn}) // must not panic
}

func ptr(f float64) *float64 { return &f }
