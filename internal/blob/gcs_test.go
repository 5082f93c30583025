package blob

import "testing"

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://bucket/config.json", "bucket", "config.json", false},
		{"gs://bucket/a/b/c.csv", "bucket", "a/b/c.csv", false},
		{"gs://bucket", "", "", true},
		{"gs://bucket/", "", "", true},
		{"/tmp/config.json", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGCSURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseGCSURI() = %q, %q; want %q, %q", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	if got := contentType("x/config.json"); got != "application/json" {
		t.Errorf("contentType(json) = %q", got)
	}
	if got := contentType("noext"); got != "application/octet-stream" {
		t.Errorf("contentType(noext) = %q", got)
	}
}
