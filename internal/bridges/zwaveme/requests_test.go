package zwaveme

import (
	"encoding/json"
	"testing"
)

func TestRequests_WireFormat(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "get devices",
			req:  GetDevicesRequest(),
			want: `{"event":"httpEncapsulatedRequest","responseEvent":"get_devices","data":{"method":"GET","url":"/ZAutomation/api/v1/devices"}}`,
		},
		{
			name: "get device info",
			req:  GetDeviceInfoRequest("ZWayVDev_zway_5-0-37"),
			want: `{"event":"httpEncapsulatedRequest","responseEvent":"get_device_info","data":{"method":"GET","url":"/ZAutomation/api/v1/devices/ZWayVDev_zway_5-0-37"}}`,
		},
		{
			name: "get info",
			req:  GetInfoRequest(),
			want: `{"event":"httpEncapsulatedRequest","responseEvent":"get_info","data":{"method":"GET","url":"/ZAutomation/api/v1/system/first-access"}}`,
		},
		{
			name: "command has no response event",
			req:  CommandRequest("dev1", "exact?level=50"),
			want: `{"event":"httpEncapsulatedRequest","data":{"method":"GET","url":"/ZAutomation/api/v1/devices/dev1/command/exact?level=50"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Marshal()
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() =\n%s\nwant\n%s", got, tt.want)
			}
			if !json.Valid(got) {
				t.Error("Marshal() produced invalid JSON")
			}
		})
	}
}
